package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/fstsettat/formabot/internal/models"
)

// extractPlain returns the content as a single document. Invalid UTF-8
// sequences are replaced with the replacement character.
func extractPlain(content []byte, base models.Metadata) ([]models.RawDocument, error) {
	s := string(content)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\ufffd")
	}
	doc, ok := textDocument(s, base, models.Metadata{models.KeyElementType: "text"})
	if !ok {
		return nil, nil
	}
	return []models.RawDocument{doc}, nil
}
