// Package models defines the passage, metadata, and record types shared by the
// ingestion pipeline and the query engine.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Recognised metadata keys. Any other key is carried through untouched.
const (
	KeyChunkID              = "chunk_id"
	KeySource               = "source"
	KeyFileID               = "file_id"
	KeyFileName             = "filename"
	KeyFormationID          = "formation_id"
	KeyDocumentType         = "document_type"
	KeyChunkIndex           = "chunk_index"
	KeyTotalChunks          = "total_chunks"
	KeyStructureConfidence  = "structure_confidence"
	KeyIsStructured         = "is_structured"
	KeyProcessedAt          = "processed_at"
	KeyEmbedding            = "embedding"
	KeyEmbeddingGeneratedAt = "embedding_generated_at"
	KeyEmbeddingModel       = "embedding_model"
	KeyEmbeddingBoosted     = "embedding_boosted"
	KeyModuleCode           = "module_code"
	KeyModuleName           = "module_name"
	KeySemester             = "semester"
	KeySectionType          = "section_type"
	KeyPage                 = "page"
	KeyElementType          = "element_type"
	KeyContentType          = "content_type"
)

// UnknownFormation is the formation id used when no program could be identified.
const UnknownFormation = "UNKNOWN"

// Passage is the unit of retrieval: a bounded span of text plus metadata.
type Passage struct {
	ID       string   `json:"id,omitempty"`
	Text     string   `json:"page_content"`
	Metadata Metadata `json:"metadata"`
}

// Clone returns a deep copy of the passage.
func (p Passage) Clone() Passage {
	return Passage{ID: p.ID, Text: p.Text, Metadata: p.Metadata.Clone()}
}

// ChunkID returns the chunk_id metadata value.
func (p Passage) ChunkID() string { return p.Metadata.String(KeyChunkID) }

// Metadata is an open string-keyed mapping. Recognised keys have typed
// accessors and are normalised to canonical Go types by Normalize.
type Metadata map[string]any

// Clone returns a deep copy of m. Nested maps and slices are copied.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = cloneValue(vv)
		}
		return out
	case Metadata:
		return x.Clone()
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = cloneValue(vv)
		}
		return out
	case []float32:
		return append([]float32(nil), x...)
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}

// Has reports whether key is present with a non-nil value.
func (m Metadata) Has(key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

// String returns the value at key formatted as a string, or "" when absent.
func (m Metadata) String(key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the value at key as an int, or 0 when absent or not numeric.
func (m Metadata) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// Float returns the value at key as a float64, or 0 when absent.
func (m Metadata) Float(key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// Bool returns the value at key as a bool.
func (m Metadata) Bool(key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// Embedding returns the stored vector, or nil when the passage is not embedded.
func (m Metadata) Embedding() []float32 {
	switch v := m[KeyEmbedding].(type) {
	case []float32:
		return v
	case []any:
		out, err := toFloat32Slice(v)
		if err != nil {
			return nil
		}
		return out
	default:
		return nil
	}
}

// Normalize converts recognised keys to their canonical types in place
// (int indexes, float64 confidence, bool flags, []float32 embedding).
// Values that cannot be converted yield a DataError.
func (m Metadata) Normalize() error {
	for _, key := range []string{KeyChunkIndex, KeyTotalChunks, KeyPage} {
		if v, ok := m[key]; ok && v != nil {
			switch v.(type) {
			case int:
			case float64, int64, json.Number:
				m[key] = m.Int(key)
			case string:
				n, err := strconv.Atoi(v.(string))
				if err != nil {
					return &DataError{Field: key, Reason: "not an integer"}
				}
				m[key] = n
			default:
				return &DataError{Field: key, Reason: fmt.Sprintf("unexpected type %T", v)}
			}
		}
	}
	if v, ok := m[KeyStructureConfidence]; ok && v != nil {
		m[KeyStructureConfidence] = m.Float(KeyStructureConfidence)
	}
	for _, key := range []string{KeyIsStructured, KeyEmbeddingBoosted} {
		if v, ok := m[key]; ok && v != nil {
			if _, isBool := v.(bool); !isBool {
				m[key] = m.Bool(key)
			}
		}
	}
	if v, ok := m[KeyEmbedding]; ok && v != nil {
		switch x := v.(type) {
		case []float32:
		case []any:
			vec, err := toFloat32Slice(x)
			if err != nil {
				return &DataError{Field: KeyEmbedding, Reason: err.Error()}
			}
			m[KeyEmbedding] = vec
		case []float64:
			vec := make([]float32, len(x))
			for i, f := range x {
				vec[i] = float32(f)
			}
			m[KeyEmbedding] = vec
		default:
			return &DataError{Field: KeyEmbedding, Reason: fmt.Sprintf("unexpected type %T", v)}
		}
	}
	return nil
}

// Validate checks the keys every indexed passage must carry.
func (m Metadata) Validate() error {
	if m.String(KeyChunkID) == "" {
		return &DataError{Field: KeyChunkID, Reason: "missing"}
	}
	if m.String(KeySource) == "" {
		return &DataError{Field: KeySource, Reason: "missing"}
	}
	if m.Has(KeyStructureConfidence) {
		c := m.Float(KeyStructureConfidence)
		if c < 0 || c > 1 {
			return &DataError{Field: KeyStructureConfidence, Reason: "outside [0,1]"}
		}
	}
	return nil
}

// WithoutEmbedding returns a shallow copy of m without the embedding vector,
// for display and prompt building.
func (m Metadata) WithoutEmbedding() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		if k == KeyEmbedding {
			continue
		}
		out[k] = v
	}
	return out
}

// DecodeMetadata parses a JSON object into Metadata, keeping float32 vectors
// exact and normalising recognised keys.
func DecodeMetadata(data []byte) (Metadata, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	m := make(Metadata, len(raw))
	for k, v := range raw {
		if k == KeyEmbedding {
			var vec []float32
			if err := json.Unmarshal(v, &vec); err == nil {
				m[k] = vec
				continue
			}
		}
		val, err := decodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("decode metadata key %q: %w", k, err)
		}
		m[k] = val
	}
	if err := m.Normalize(); err != nil {
		return nil, err
	}
	return m, nil
}

// UnmarshalJSON implements json.Unmarshaler via DecodeMetadata.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Metadata{}
		return nil
	}
	decoded, err := DecodeMetadata(data)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}

func toFloat32Slice(v []any) ([]float32, error) {
	out := make([]float32, len(v))
	for i, x := range v {
		switch f := x.(type) {
		case float64:
			out[i] = float32(f)
		case json.Number:
			p, err := strconv.ParseFloat(f.String(), 32)
			if err != nil {
				return nil, err
			}
			out[i] = float32(p)
		case int:
			out[i] = float32(f)
		default:
			return nil, fmt.Errorf("element %d has type %T", i, x)
		}
	}
	return out, nil
}
