package extract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/fstsettat/formabot/internal/models"
)

// extractPDF returns one document per non-empty page, numbered from 1.
func extractPDF(ctx context.Context, content []byte, base models.Metadata) (docs []models.RawDocument, err error) {
	// The pdf reader panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("extract PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		if doc, ok := textDocument(text, base, models.Metadata{
			models.KeyPage:        i,
			models.KeyElementType: "page",
		}); ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}
