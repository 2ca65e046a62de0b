package extract

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/fstsettat/formabot/internal/models"
)

// extractExcel returns one table document per non-empty sheet. Timetables
// keep their row structure so the chunker sees them as tables.
func extractExcel(content []byte, base models.Metadata) ([]models.RawDocument, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var docs []models.RawDocument
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		if models.RenderTable(rows) == "" {
			continue
		}
		meta := base.Clone()
		meta[models.KeyPage] = i + 1
		meta["sheet"] = sheet
		docs = append(docs, models.FromTable(rows, meta))
	}
	return docs, nil
}
