package extract

import (
	"fmt"

	"github.com/lu4p/cat"

	"github.com/fstsettat/formabot/internal/models"
)

// extractWithCat handles ODT and RTF, which lu4p/cat detects from the content.
func extractWithCat(content []byte, base models.Metadata) ([]models.RawDocument, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", base.String(models.KeyContentType), err)
	}
	doc, ok := textDocument(text, base, models.Metadata{models.KeyElementType: "text"})
	if !ok {
		return nil, nil
	}
	return []models.RawDocument{doc}, nil
}
