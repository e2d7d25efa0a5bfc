// Package cookiecache persists browser-issued session cookies to disk
// so that the ~15s headless login flow only runs when the cached
// artifact has aged out.
//
// The cache holds at most one artifact per account key. Writers in the
// same process must not race on one key; multi-process use against the
// same directory requires external locking by the caller.
package cookiecache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cpau-backend/lib/timezone"
)

type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

type Artifact struct {
	CapturedAt time.Time `json:"captured_at"`
	Cookies    []Cookie  `json:"cookies"`
}

type Cache struct {
	dir string
}

func New(dir string) Cache {
	return Cache{dir: dir}
}

func (c Cache) path(accountKey string) string {
	// account keys are email-ish user input, hash them instead of
	// trusting them as path components
	sum := sha256.Sum256([]byte(accountKey))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8])+".json")
}

// Load returns the cached artifact for the account if one exists and
// was captured within trustWindow. A missing, corrupt or aged-out file
// is a cache miss, never an error.
func (c Cache) Load(accountKey string, trustWindow time.Duration) (Artifact, bool) {
	path := c.path(accountKey)

	contents, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, false
	}

	var artifact Artifact
	err = json.Unmarshal(contents, &artifact)
	if err != nil {
		slog.Warn("discarding corrupt cookie cache file", "path", path, "err", err)
		return Artifact{}, false
	}

	age := timezone.Now().Sub(artifact.CapturedAt)
	if age >= trustWindow {
		slog.Debug("cached cookies aged out", "age", age, "trust_window", trustWindow)
		return Artifact{}, false
	}

	slog.Debug("cookie cache hit", "age", age, "cookies", len(artifact.Cookies))
	return artifact, true
}

// Store atomically replaces the artifact for the account. The write
// goes to a temp file first so a crash mid-write never leaves a corrupt
// cache readable by a later run.
func (c Cache) Store(accountKey string, artifact Artifact) error {
	err := os.MkdirAll(c.dir, 0o700)
	if err != nil {
		return err
	}

	contents, err := json.Marshal(artifact)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, ".cookies-*")
	if err != nil {
		return err
	}
	_, err = tmp.Write(contents)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	err = tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), c.path(accountKey))
}

// Discard drops the artifact for the account, if any.
func (c Cache) Discard(accountKey string) {
	err := os.Remove(c.path(accountKey))
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to discard cookie cache file", "err", err)
	}
}
