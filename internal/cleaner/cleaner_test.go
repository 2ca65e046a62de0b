package cleaner

import (
	"strings"
	"testing"

	"github.com/fstsettat/formabot/internal/models"
)

func newCleaner(t *testing.T) *FSTCleaner {
	t.Helper()
	c, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCleanText(t *testing.T) {
	c := newCleaner(t)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"page numbers", "Objectifs\n  12  \nSuite", "Objectifs\n\nSuite"},
		{"fsts header", "FSTS - Formation Master RSI", "Master RSI"},
		{"reference", "Référence : ABC123 Module", "Module"},
		{"site url", "Voir www.fsts.ac.ma pour plus", "Voir pour plus"},
		{"soft hyphen", "infor\u00admatique", "informatique"},
		{"c1 control", "a\u0085b", "a b"},
		{"separator line", "Titre\n=====\nTexte", "Titre\n\nTexte"},
		{"keeps bullets", "Modules:\n- Réseaux\n- Systèmes", "Modules:\n- Réseaux\n- Systèmes"},
		{"nfkc ligature", "e\ufb03cace", "efficace"},
		{"collapses blank lines", "a\n\n\n\n\nb", "a\n\nb"},
		{"collapses spaces", "a \t  b c", "a b c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.CleanText(tt.in); got != tt.want {
				t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanText_html(t *testing.T) {
	c := newCleaner(t)
	got := c.CleanText("<html><body><p>Programme</p><table><tr><td>M1</td><td>Réseaux</td></tr></table><ul><li>Java</li></ul><script>x()</script></body></html>")
	for _, want := range []string{"Programme", "| M1 | Réseaux |", "- Java"} {
		if !strings.Contains(got, want) {
			t.Errorf("CleanText html = %q, missing %q", got, want)
		}
	}
	if strings.Contains(got, "x()") {
		t.Errorf("script content leaked: %q", got)
	}
}

func TestNew_invalidPattern(t *testing.T) {
	if _, err := New([]string{"("}); err == nil {
		t.Error("expected error for invalid custom pattern")
	}
}

func TestClean_dropsEmptyAndCopiesMetadata(t *testing.T) {
	c := newCleaner(t)
	meta := models.Metadata{models.KeySource: "a.pdf"}
	out := c.Clean([]models.Passage{
		{Text: "  42  ", Metadata: meta},
		{Text: "Master GL", Metadata: meta},
	})
	if len(out) != 1 {
		t.Fatalf("got %d passages, want 1", len(out))
	}
	out[0].Metadata["x"] = 1
	if _, leaked := meta["x"]; leaked {
		t.Error("metadata should be copied")
	}
}
