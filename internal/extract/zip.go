package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
)

// readZipEntry returns the contents of name, or nil when the archive has no
// such entry.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(rc); err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		return buf.Bytes(), nil
	}
	return nil, nil
}

// openZip opens content as a zip archive and returns the named entry, failing
// when it is missing.
func openZip(content []byte, entry, format string) (*zip.Reader, []byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	if entry == "" {
		return zr, nil, nil
	}
	data, err := readZipEntry(zr, entry)
	if err != nil {
		return nil, nil, fmt.Errorf("extract %s: %w", format, err)
	}
	if data == nil {
		return nil, nil, fmt.Errorf("extract %s: %s not found", format, entry)
	}
	return zr, data, nil
}

// paragraphs splits xml on paragraphEnd and joins the text runs matched by
// run inside each paragraph. Blank paragraphs are dropped.
func paragraphs(xml, paragraphEnd string, run *regexp.Regexp) []string {
	var out []string
	for _, chunk := range strings.Split(xml, paragraphEnd) {
		var b strings.Builder
		for _, m := range run.FindAllStringSubmatch(chunk, -1) {
			b.WriteString(html.UnescapeString(m[1]))
		}
		if line := strings.TrimSpace(b.String()); line != "" {
			out = append(out, line)
		}
	}
	return out
}
