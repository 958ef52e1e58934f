package feed

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// stripHTML reduces an HTML fragment to its text with runs of whitespace
// collapsed. Entities are decoded.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
