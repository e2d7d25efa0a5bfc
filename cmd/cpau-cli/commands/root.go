package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cpau-backend/lib/configutil"
	"cpau-backend/lib/cookiecache"
	"cpau-backend/lib/restyutil"
	"cpau-backend/lib/scrapers/cpauportal"
	"cpau-backend/lib/scrapers/watersmart"
	"cpau-backend/lib/serviceutil"
	"cpau-backend/lib/telemetry"
	"cpau-backend/services/usage"

	"github.com/spf13/cobra"
)

type Secrets struct {
	Userid   string `json:"userid"`
	Password string `json:"password"`
}

var (
	secretsFile string
	cacheDir    string
	ssoHelper   string
	verbose     bool
	dumpHttp    bool
)

var rootCmd = &cobra.Command{
	Use:   "cpau-cli",
	Short: "cpau-cli reads electric and water meter usage out of the CPAU portals.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
		if dumpHttp {
			cpauportal.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput(".dev/resty/cpauportal"))
			watersmart.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput(".dev/resty/watersmart"))
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&secretsFile, "secrets", "secrets.json5", "Path to the credentials file.")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Directory for cached session cookies, defaults to the user cache dir.")
	rootCmd.PersistentFlags().StringVar(&ssoHelper, "sso-helper", "", "Headless browser helper used for the watersmart SSO login.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")
	rootCmd.PersistentFlags().BoolVar(&dumpHttp, "dump-http", false, "Dump raw HTTP exchanges to .dev/resty for debugging.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func cookieCache() cookiecache.Cache {
	dir := cacheDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			serviceutil.Fatal("failed to locate user cache dir", err)
		}
		dir = filepath.Join(base, "cpau")
	}
	return cookiecache.New(dir)
}

// newDirectory builds the meter directory from the secrets file. The
// water backend only comes up when an SSO helper is configured, the
// electric side needs nothing beyond credentials.
func newDirectory(ctx context.Context) usage.Directory {
	secrets, err := configutil.ReadConfig[Secrets](secretsFile)
	if err != nil {
		serviceutil.Fatal("failed to read secrets", err)
	}

	portal, err := cpauportal.NewClient(ctx, cpauportal.ClientOptions{
		Userid:   secrets.Userid,
		Password: secrets.Password,
	})
	if err != nil {
		serviceutil.Fatal("failed to initialize portal client", err)
	}

	directory := usage.Directory{Portal: portal}
	if ssoHelper != "" {
		water, err := watersmart.NewClient(ctx, watersmart.ClientOptions{
			Userid:   secrets.Userid,
			Password: secrets.Password,
			Browser:  watersmart.CommandBrowser{Path: ssoHelper},
			Cache:    cookieCache(),
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize watersmart client", err)
		}
		directory.Water = water
	}
	return directory
}

// lookupMeter resolves a service type and optional meter number into a
// usage.Meter.
func lookupMeter(ctx context.Context, directory usage.Directory, service, number string) (usage.Meter, error) {
	switch service {
	case "electric":
		return directory.ElectricMeter(ctx, number)
	case "water":
		return directory.WaterMeter(ctx, number)
	default:
		return nil, fmt.Errorf("unknown service %q, expected electric or water", service)
	}
}
