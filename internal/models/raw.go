package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind discriminates the shapes a raw document can take at an ingress boundary.
type Kind string

const (
	KindDocument Kind = "Document"
	KindDict     Kind = "dict"
	KindTable    Kind = "Table"
	KindString   Kind = "string"
	KindUnknown  Kind = "unknown"
)

// RawDocument is the tagged variant accepted by the chunker, the embedder, and
// the vector store. Exactly one payload field is meaningful for a given Kind.
type RawDocument struct {
	Kind    Kind
	Passage Passage        // KindDocument
	Fields  map[string]any // KindDict
	Rows    [][]string     // KindTable
	Text    string         // KindString, KindUnknown
	Meta    Metadata       // KindTable
}

// FromPassage wraps a passage.
func FromPassage(p Passage) RawDocument { return RawDocument{Kind: KindDocument, Passage: p} }

// FromFields wraps a loosely typed record.
func FromFields(f map[string]any) RawDocument { return RawDocument{Kind: KindDict, Fields: f} }

// FromString wraps bare text.
func FromString(s string) RawDocument { return RawDocument{Kind: KindString, Text: s} }

// FromTable wraps extracted table rows.
func FromTable(rows [][]string, meta Metadata) RawDocument {
	return RawDocument{Kind: KindTable, Rows: rows, Meta: meta}
}

// FromPassages wraps every passage.
func FromPassages(ps []Passage) []RawDocument {
	out := make([]RawDocument, len(ps))
	for i, p := range ps {
		out[i] = FromPassage(p)
	}
	return out
}

// Empty reports whether the document carries no usable content.
func (r RawDocument) Empty() bool {
	switch r.Kind {
	case KindDocument:
		return strings.TrimSpace(r.Passage.Text) == ""
	case KindDict:
		return len(r.Fields) == 0
	case KindTable:
		return len(r.Rows) == 0
	default:
		return strings.TrimSpace(r.Text) == ""
	}
}

// cacheItem is the on-disk shape of one cache entry element.
type cacheItem struct {
	Type        Kind            `json:"__type__"`
	PageContent *string         `json:"page_content,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Content     *string         `json:"content,omitempty"`
	Text        *string         `json:"text,omitempty"`
}

// MarshalJSON writes the type-tagged cache representation.
func (r RawDocument) MarshalJSON() ([]byte, error) {
	item := map[string]any{"__type__": r.Kind}
	switch r.Kind {
	case KindDocument:
		item["page_content"] = strings.TrimSpace(r.Passage.Text)
		meta := r.Passage.Metadata
		if meta == nil {
			meta = Metadata{}
		}
		item["metadata"] = meta
	case KindDict:
		clean := make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			if v != nil {
				clean[k] = v
			}
		}
		item["data"] = clean
	case KindTable:
		item["data"] = r.Rows
		meta := r.Meta
		if meta == nil {
			meta = Metadata{}
		}
		item["metadata"] = meta
	default:
		item["content"] = strings.TrimSpace(r.Text)
	}
	return json.Marshal(item)
}

// UnmarshalJSON reads a cache entry element. Untagged objects are recognised by
// their page_content, text, or content field; bare JSON strings become KindString.
func (r *RawDocument) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*r = FromString(s)
		return nil
	}
	var item cacheItem
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return fmt.Errorf("decode cache item: %w", err)
	}
	meta := Metadata{}
	if len(item.Metadata) > 0 {
		if err := json.Unmarshal(item.Metadata, &meta); err != nil {
			return err
		}
	}
	switch item.Type {
	case KindDocument:
		*r = FromPassage(Passage{Text: deref(item.PageContent), Metadata: meta})
	case KindDict:
		fields := map[string]any{}
		if len(item.Data) > 0 {
			v, err := decodeValue(item.Data)
			if err != nil {
				return err
			}
			if m, ok := v.(map[string]any); ok {
				fields = m
			}
		}
		*r = FromFields(fields)
	case KindTable:
		var rows [][]string
		if len(item.Data) > 0 {
			if err := json.Unmarshal(item.Data, &rows); err != nil {
				return fmt.Errorf("decode table rows: %w", err)
			}
		}
		*r = FromTable(rows, meta)
	case KindString:
		*r = FromString(deref(item.Content))
	default:
		switch {
		case item.PageContent != nil:
			*r = FromPassage(Passage{Text: *item.PageContent, Metadata: meta})
		case item.Text != nil:
			*r = FromPassage(Passage{Text: *item.Text, Metadata: meta})
		case item.Content != nil && item.Type == "":
			*r = FromPassage(Passage{Text: *item.Content, Metadata: Metadata{KeySource: "from_content"}})
		default:
			*r = RawDocument{Kind: KindUnknown, Text: deref(item.Content)}
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// decodeValue decodes arbitrary JSON, turning integral numbers into int and
// the rest into float64.
func decodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return fromNumbers(v), nil
}

func fromNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int(n)
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		for k, vv := range x {
			x[k] = fromNumbers(vv)
		}
		return x
	case []any:
		for i, vv := range x {
			x[i] = fromNumbers(vv)
		}
		return x
	default:
		return v
	}
}
