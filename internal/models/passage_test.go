package models

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestDecodeMetadata_KeepsVectorsExact(t *testing.T) {
	in := Metadata{
		KeyChunkID:             "MST_RSI_3",
		KeySource:              "brochure.pdf",
		KeyChunkIndex:          3,
		KeyStructureConfidence: 0.75,
		KeyIsStructured:        true,
		KeyEmbedding:           []float32{0.1, -0.333333343, 1e-7, 0.70710677},
		"custom":               "kept",
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeMetadata(data)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip mismatch:\n got %#v\nwant %#v", out, in)
	}
}

func TestMetadata_NormalizeConvertsRecognisedKeys(t *testing.T) {
	m := Metadata{
		KeyChunkIndex:   float64(4),
		KeyTotalChunks:  "9",
		KeyIsStructured: "true",
		KeyEmbedding:    []any{float64(1), float64(0.5)},
	}
	if err := m.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if m[KeyChunkIndex] != 4 || m[KeyTotalChunks] != 9 {
		t.Errorf("indexes not converted: %#v", m)
	}
	if m[KeyIsStructured] != true {
		t.Errorf("is_structured = %#v, want true", m[KeyIsStructured])
	}
	if got := m.Embedding(); !reflect.DeepEqual(got, []float32{1, 0.5}) {
		t.Errorf("embedding = %v", got)
	}
}

func TestMetadata_NormalizeRejectsBadIndex(t *testing.T) {
	m := Metadata{KeyChunkIndex: "abc"}
	err := m.Normalize()
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("expected DataError, got %v", err)
	}
	if de.Field != KeyChunkIndex {
		t.Errorf("Field = %q, want %q", de.Field, KeyChunkIndex)
	}
}

func TestMetadata_Validate(t *testing.T) {
	tests := []struct {
		name    string
		meta    Metadata
		wantErr bool
	}{
		{"ok", Metadata{KeyChunkID: "a", KeySource: "s"}, false},
		{"missing chunk id", Metadata{KeySource: "s"}, true},
		{"missing source", Metadata{KeyChunkID: "a"}, true},
		{"confidence out of range", Metadata{KeyChunkID: "a", KeySource: "s", KeyStructureConfidence: 1.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.meta.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetadata_CloneIsDeep(t *testing.T) {
	m := Metadata{"nested": map[string]any{"a": 1}, KeyEmbedding: []float32{1}}
	c := m.Clone()
	c["nested"].(map[string]any)["a"] = 2
	c.Embedding()[0] = 9
	if m["nested"].(map[string]any)["a"] != 1 || m.Embedding()[0] != 1 {
		t.Error("Clone shares nested values with the original")
	}
}

func TestCoerce(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		p, derr := Coerce(FromString("  hello  "), 2)
		if derr != nil {
			t.Fatal(derr)
		}
		if p.Text != "hello" {
			t.Errorf("Text = %q", p.Text)
		}
		if got := p.Metadata.String(KeySource); got != "converted_string_2" {
			t.Errorf("source = %q, want converted_string_2", got)
		}
		if got := p.ChunkID(); got != "str_2_"+ShortHash("hello") {
			t.Errorf("chunk_id = %q", got)
		}
		if got := p.Metadata.String(KeyContentType); got != "text/plain" {
			t.Errorf("content_type = %q", got)
		}
	})
	t.Run("dict with metadata", func(t *testing.T) {
		p, derr := Coerce(FromFields(map[string]any{
			"page_content": "texte",
			"metadata":     map[string]any{KeySource: "a.pdf", KeyChunkIndex: float64(1)},
		}), 0)
		if derr != nil {
			t.Fatal(derr)
		}
		if p.Metadata.String(KeySource) != "a.pdf" || p.Metadata[KeyChunkIndex] != 1 {
			t.Errorf("metadata = %#v", p.Metadata)
		}
	})
	t.Run("dict flat fields", func(t *testing.T) {
		p, derr := Coerce(FromFields(map[string]any{"text": "t", "filename": "MST_GL_FST.pdf"}), 0)
		if derr != nil {
			t.Fatal(derr)
		}
		if p.Metadata.String(KeyFileName) != "MST_GL_FST.pdf" {
			t.Errorf("metadata = %#v", p.Metadata)
		}
	})
	t.Run("empty document", func(t *testing.T) {
		_, derr := Coerce(FromPassage(Passage{Text: "   "}), 5)
		if derr == nil || derr.Index != 5 {
			t.Fatalf("expected DataError for index 5, got %v", derr)
		}
	})
	t.Run("table", func(t *testing.T) {
		p, derr := Coerce(FromTable([][]string{{"Code", "Intitulé"}, {"M1", "Réseaux"}}, Metadata{KeySource: "t.xlsx"}), 0)
		if derr != nil {
			t.Fatal(derr)
		}
		want := "| Code | Intitulé |\n| M1 | Réseaux |"
		if p.Text != want {
			t.Errorf("Text = %q, want %q", p.Text, want)
		}
		if p.Metadata.String(KeyElementType) != "table" {
			t.Error("element_type should be table")
		}
	})
}

func TestRawDocument_JSONTags(t *testing.T) {
	items := []RawDocument{
		FromPassage(Passage{Text: "doc", Metadata: Metadata{KeySource: "a"}}),
		FromFields(map[string]any{"k": "v"}),
		FromString("s"),
		FromTable([][]string{{"a", "b"}}, Metadata{}),
	}
	data, err := json.Marshal(items)
	if err != nil {
		t.Fatal(err)
	}
	var tags []map[string]any
	if err := json.Unmarshal(data, &tags); err != nil {
		t.Fatal(err)
	}
	wantTags := []string{"Document", "dict", "string", "Table"}
	for i, w := range wantTags {
		if tags[i]["__type__"] != w {
			t.Errorf("item %d __type__ = %v, want %s", i, tags[i]["__type__"], w)
		}
	}
	var back []RawDocument
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	for i := range items {
		if back[i].Kind != items[i].Kind {
			t.Errorf("item %d kind = %s, want %s", i, back[i].Kind, items[i].Kind)
		}
	}
	if back[0].Passage.Text != "doc" || back[1].Fields["k"] != "v" || back[2].Text != "s" {
		t.Errorf("payloads not restored: %#v", back)
	}
}

func TestRawDocument_UntaggedObjects(t *testing.T) {
	var docs []RawDocument
	data := `["bare", {"page_content": "pc", "metadata": {"source": "x"}}, {"text": "tt"}, {"content": "cc"}, {"__type__": "weird"}]`
	if err := json.Unmarshal([]byte(data), &docs); err != nil {
		t.Fatal(err)
	}
	wantKinds := []Kind{KindString, KindDocument, KindDocument, KindDocument, KindUnknown}
	for i, k := range wantKinds {
		if docs[i].Kind != k {
			t.Errorf("doc %d kind = %s, want %s", i, docs[i].Kind, k)
		}
	}
	if docs[3].Passage.Metadata.String(KeySource) != "from_content" {
		t.Errorf("content-only object source = %q", docs[3].Passage.Metadata.String(KeySource))
	}
}
