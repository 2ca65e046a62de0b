package extract

import (
	"html"
	"regexp"
	"strings"

	"github.com/fstsettat/formabot/internal/models"
)

var (
	odsTableRe = regexp.MustCompile(`(?s)<table:table\s[^>]*table:name="([^"]*)"[^>]*>(.*?)</table:table>`)
	odsRowRe   = regexp.MustCompile(`(?s)<table:table-row[^>]*>(.*?)</table:table-row>`)
	// odsCellRe matches both full and self-closing cells so empty columns keep
	// their position.
	odsCellRe = regexp.MustCompile(`(?s)<table:table-cell[^>]*/>|<table:table-cell[^>]*>(.*?)</table:table-cell>`)
)

// extractODS returns one table document per named sheet, the OpenDocument
// counterpart of extractExcel.
func extractODS(content []byte, base models.Metadata) ([]models.RawDocument, error) {
	_, contentXML, err := openZip(content, odfContentPath, "ODS")
	if err != nil {
		return nil, err
	}
	var docs []models.RawDocument
	for i, t := range odsTableRe.FindAllStringSubmatch(string(contentXML), -1) {
		var rows [][]string
		for _, r := range odsRowRe.FindAllStringSubmatch(t[2], -1) {
			var row []string
			for _, c := range odsCellRe.FindAllStringSubmatch(r[1], -1) {
				row = append(row, strings.Join(odfLines(c[1]), " "))
			}
			rows = append(rows, row)
		}
		if models.RenderTable(rows) == "" {
			continue
		}
		meta := base.Clone()
		meta[models.KeyPage] = i + 1
		meta["sheet"] = html.UnescapeString(t[1])
		docs = append(docs, models.FromTable(rows, meta))
	}
	return docs, nil
}
