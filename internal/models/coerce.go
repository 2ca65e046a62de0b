package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DataError reports a malformed or unexpected document shape. It is recovered
// locally (the document is skipped) and never aborts a batch.
type DataError struct {
	Index  int
	Field  string
	Reason string
}

func (e *DataError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("document %d: %s: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("document %d: %s", e.Index, e.Reason)
}

// Coerce converts a raw document at position i into a Passage.
// Strings become text/plain passages with a synthetic source and chunk id;
// dicts are read from page_content, text, or content plus an optional metadata map.
// Missing ids are not backfilled here beyond what the string rule requires.
func Coerce(raw RawDocument, i int) (Passage, *DataError) {
	switch raw.Kind {
	case KindDocument:
		p := raw.Passage.Clone()
		if strings.TrimSpace(p.Text) == "" {
			return Passage{}, &DataError{Index: i, Reason: "empty content"}
		}
		if err := p.Metadata.Normalize(); err != nil {
			return Passage{}, withIndex(err, i)
		}
		return p, nil
	case KindString, KindUnknown:
		text := strings.TrimSpace(raw.Text)
		if text == "" {
			return Passage{}, &DataError{Index: i, Reason: "empty content"}
		}
		return Passage{
			Text: text,
			Metadata: Metadata{
				KeySource:      fmt.Sprintf("converted_string_%d", i),
				KeyChunkID:     fmt.Sprintf("str_%d_%s", i, ShortHash(text)),
				KeyContentType: "text/plain",
			},
		}, nil
	case KindDict:
		return coerceFields(raw.Fields, i)
	case KindTable:
		text := RenderTable(raw.Rows)
		if text == "" {
			return Passage{}, &DataError{Index: i, Reason: "empty table"}
		}
		meta := raw.Meta.Clone()
		meta[KeyElementType] = "table"
		return Passage{Text: text, Metadata: meta}, nil
	default:
		return Passage{}, &DataError{Index: i, Reason: fmt.Sprintf("unsupported kind %q", raw.Kind)}
	}
}

func coerceFields(f map[string]any, i int) (Passage, *DataError) {
	var text string
	for _, key := range []string{"page_content", "text", "content"} {
		if s, ok := f[key].(string); ok && strings.TrimSpace(s) != "" {
			text = s
			break
		}
	}
	if strings.TrimSpace(text) == "" {
		return Passage{}, &DataError{Index: i, Reason: "no text field"}
	}
	meta := Metadata{}
	if m, ok := f["metadata"].(map[string]any); ok {
		for k, v := range m {
			meta[k] = v
		}
	} else {
		for k, v := range f {
			switch k {
			case "page_content", "text", "content":
			default:
				meta[k] = v
			}
		}
	}
	if err := meta.Normalize(); err != nil {
		return Passage{}, withIndex(err, i)
	}
	id, _ := f["id"].(string)
	return Passage{ID: id, Text: text, Metadata: meta}, nil
}

func withIndex(err error, i int) *DataError {
	if de, ok := err.(*DataError); ok {
		de.Index = i
		return de
	}
	return &DataError{Index: i, Reason: err.Error()}
}

// ShortHash returns the first 8 hex characters of the SHA-256 of s.
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}

// ContentKey returns the full SHA-256 hex of s, used when a passage has no chunk id.
func ContentKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// RenderTable renders rows as pipe-delimited lines so that table structure
// survives into the chunker's structure detection.
func RenderTable(rows [][]string) string {
	var b strings.Builder
	for _, row := range rows {
		cells := make([]string, 0, len(row))
		empty := true
		for _, c := range row {
			c = strings.TrimSpace(c)
			if c != "" {
				empty = false
			}
			cells = append(cells, c)
		}
		if empty {
			continue
		}
		b.WriteString("| ")
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString(" |\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
