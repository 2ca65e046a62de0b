package extract

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fstsettat/formabot/internal/models"
)

// pptxSlideRe matches slide parts and captures the slide number.
var pptxSlideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// atTag matches <a:t>text</a:t> or <a:t xml:space="preserve">text</a:t> (and any other attributes).
var atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

// extractPPTX returns one document per slide, in slide order. Presentation
// brochures use one slide per topic, so slides map to pages.
func extractPPTX(ctx context.Context, content []byte, base models.Metadata) ([]models.RawDocument, error) {
	zr, _, err := openZip(content, "", "PPTX")
	if err != nil {
		return nil, err
	}
	type slide struct {
		num  int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		m := pptxSlideRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var docs []models.RawDocument
	for _, s := range slides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := readZipEntry(zr, s.name)
		if err != nil {
			return nil, err
		}
		lines := paragraphs(string(data), "</a:p>", atTag)
		if doc, ok := textDocument(strings.Join(lines, "\n"), base, models.Metadata{
			models.KeyPage:        s.num,
			models.KeyElementType: "slide",
		}); ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}
