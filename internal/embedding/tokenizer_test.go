package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("hello world", 10)
	if len(ids) != 10 {
		t.Errorf("len(ids)=%d", len(ids))
	}
	if ids[0] != 101 {
		t.Errorf("expected CLS 101, got %d", ids[0])
	}
	if ids[3] != 102 {
		t.Errorf("expected SEP 102 after two words, got %d", ids[3])
	}
	if attn[0] != 1 || attn[4] != 0 {
		t.Errorf("attention mask got %v", attn)
	}
}

func TestSimpleTokenizer_Truncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("a b c d e f g h", 4)
	if len(ids) != 4 {
		t.Fatalf("len(ids)=%d, want 4", len(ids))
	}
	if ids[3] != 102 {
		t.Errorf("last token got %d, want SEP 102", ids[3])
	}
	for i, a := range attn {
		if a != 1 {
			t.Errorf("attn[%d]=%d, want 1", i, a)
		}
	}
}

func TestWords(t *testing.T) {
	words := Words("  Module M12: Réseaux, avancés!  ")
	want := []string{"module", "m12", "réseaux", "avancés"}
	if len(words) != len(want) {
		t.Fatalf("got %v, want %v", words, want)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("word %d got %q, want %q", i, words[i], want[i])
		}
	}
	if Words("") != nil {
		t.Error("empty string should return nil")
	}
}

func TestHashString(t *testing.T) {
	h := HashString("abc")
	if h == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString(string(make([]rune, 64))) < 0 {
		t.Error("hash should be non-negative")
	}
}
