package extract

import (
	"html"
	"regexp"
	"strings"

	"github.com/fstsettat/formabot/internal/models"
)

// odfContentPath is the path to the main content inside OpenDocument zips.
const odfContentPath = "content.xml"

var (
	// odfText matches text:p and text:h elements, with optional attributes.
	odfText = regexp.MustCompile(`(?s)<text:(?:p|h)(?:\s[^>]*[^/])?>(.*?)</text:(?:p|h)>`)
	// odfTag strips nested span and formatting tags inside a paragraph.
	odfTag     = regexp.MustCompile(`<[^>]+>`)
	odpPageEnd = "</draw:page>"
)

// odfLines returns the paragraphs and headings of an OpenDocument fragment,
// one per line, in document order.
func odfLines(fragment string) []string {
	var out []string
	for _, m := range odfText.FindAllStringSubmatch(fragment, -1) {
		line := strings.TrimSpace(html.UnescapeString(odfTag.ReplaceAllString(m[1], "")))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// extractODP returns one document per presentation page.
func extractODP(content []byte, base models.Metadata) ([]models.RawDocument, error) {
	_, contentXML, err := openZip(content, odfContentPath, "ODP")
	if err != nil {
		return nil, err
	}
	var docs []models.RawDocument
	pages := strings.Split(string(contentXML), odpPageEnd)
	for i, page := range pages {
		if doc, ok := textDocument(strings.Join(odfLines(page), "\n"), base, models.Metadata{
			models.KeyPage:        i + 1,
			models.KeyElementType: "slide",
		}); ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}
