package htmlutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HiddenInput returns the value attribute of the <input> element with
// the given name attribute, or "" when the page has no such element.
// Names are quoted so ASP.NET identifiers like "ctl00$hdnCSRFToken"
// survive the selector syntax.
func HiddenInput(doc *goquery.Document, name string) string {
	sel := doc.Find(fmt.Sprintf("input[name=%s]", strconv.Quote(name)))
	return sel.First().AttrOr("value", "")
}

// Title returns the trimmed contents of the page <title>, used for
// error context when token extraction fails.
func Title(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("title").First().Text())
}
