// Package extract turns document files into raw documents for the ingestion
// pipeline. Paged formats yield one document per page or slide, spreadsheets
// one table per sheet.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fstsettat/formabot/internal/models"
	"github.com/fstsettat/formabot/pkg/utils"
)

// ErrUnsupported is returned for extensions no extractor handles.
var ErrUnsupported = errors.New("unsupported document format")

// Extractor extracts raw documents from a file.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]models.RawDocument, error)
}

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".odt":  "application/vnd.oasis.opendocument.text",
	".rtf":  "application/rtf",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odp":  "application/vnd.oasis.opendocument.presentation",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".rst":  "text/plain",
}

// SupportedExtensions returns the extensions FileExtractor understands.
func SupportedExtensions() []string {
	out := make([]string, 0, len(contentTypes))
	for ext := range contentTypes {
		out = append(out, ext)
	}
	return out
}

// FileExtractor dispatches on the file extension.
type FileExtractor struct {
	logger *zap.Logger
}

// Option configures a FileExtractor.
type Option func(*FileExtractor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *FileExtractor) { e.logger = l }
}

// NewExtractor returns a new FileExtractor.
func NewExtractor(opts ...Option) *FileExtractor {
	e := &FileExtractor{}
	for _, o := range opts {
		o(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// Extract reads the file at path and returns its documents. Every document
// carries source, filename, and content_type metadata.
func (e *FileExtractor) Extract(ctx context.Context, path string) ([]models.RawDocument, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	docs, err := e.ExtractBytes(ctx, content, path)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("extracted", zap.String("path", path), zap.Int("documents", len(docs)))
	return docs, nil
}

// ExtractBytes extracts documents from content. name supplies the extension
// and the source metadata.
func (e *FileExtractor) ExtractBytes(ctx context.Context, content []byte, name string) ([]models.RawDocument, error) {
	ext := strings.ToLower(filepath.Ext(name))
	ct, ok := contentTypes[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	base := models.Metadata{
		models.KeySource:      name,
		models.KeyFileName:    filepath.Base(name),
		models.KeyContentType: ct,
	}

	switch ext {
	case ".pdf":
		return extractPDF(ctx, content, base)
	case ".docx":
		return extractDOCX(content, base)
	case ".odt", ".rtf":
		return extractWithCat(content, base)
	case ".xlsx":
		return extractExcel(content, base)
	case ".ods":
		return extractODS(content, base)
	case ".pptx":
		return extractPPTX(ctx, content, base)
	case ".odp":
		return extractODP(content, base)
	default:
		return extractPlain(content, base)
	}
}

// textDocument wraps text as a passage document, or returns false when the
// text is blank.
func textDocument(text string, base models.Metadata, extra models.Metadata) (models.RawDocument, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.RawDocument{}, false
	}
	meta := base.Clone()
	for k, v := range extra {
		meta[k] = v
	}
	return models.FromPassage(models.Passage{Text: text, Metadata: meta}), true
}
