package search

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/fstsettat/formabot/internal/models"
)

const (
	notSpecified   = "Non spécifié"
	contextDocs    = 5
	contextExcerpt = 500
)

// FormationInfo is the general information gathered across retrieved passages.
type FormationInfo struct {
	Formation    map[string]any `json:"formation"`
	Objectifs    []any          `json:"objectifs"`
	Admission    []any          `json:"admission"`
	Debouches    []any          `json:"debouches"`
	Organisation map[string]any `json:"organisation"`
}

// AggregateFormationInfo merges formation_info sub-maps and top-level fields
// of every passage. List fields keep first-seen order without duplicates.
func AggregateFormationInfo(passages []models.Passage) FormationInfo {
	info := FormationInfo{
		Formation:    map[string]any{},
		Objectifs:    []any{},
		Admission:    []any{},
		Debouches:    []any{},
		Organisation: map[string]any{},
	}
	merge := func(src map[string]any) {
		mergeMap(info.Formation, src["formation"])
		mergeMap(info.Organisation, src["organisation"])
		info.Objectifs = appendValues(info.Objectifs, src["objectifs"])
		info.Admission = appendValues(info.Admission, src["admission"])
		info.Debouches = appendValues(info.Debouches, src["debouches"])
	}
	for _, p := range passages {
		if fi, ok := p.Metadata["formation_info"].(map[string]any); ok {
			merge(fi)
		}
		merge(p.Metadata)
	}
	info.Objectifs = dedupe(info.Objectifs)
	info.Admission = dedupe(info.Admission)
	info.Debouches = dedupe(info.Debouches)
	return info
}

func mergeMap(dst map[string]any, v any) {
	if m, ok := v.(map[string]any); ok {
		for k, x := range m {
			dst[k] = x
		}
	}
}

// appendValues flattens v into dst: lists are spread, maps contribute their
// values, and scalars are appended as is.
func appendValues(dst []any, v any) []any {
	switch x := v.(type) {
	case nil:
		return dst
	case []any:
		return append(dst, x...)
	case []string:
		for _, s := range x {
			dst = append(dst, s)
		}
		return dst
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(x)) {
			dst = appendValues(dst, x[k])
		}
		return dst
	default:
		return append(dst, x)
	}
}

func dedupe(values []any) []any {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		key, err := json.Marshal(v)
		if err != nil {
			key = []byte(fmt.Sprint(v))
		}
		if seen[string(key)] {
			continue
		}
		seen[string(key)] = true
		out = append(out, v)
	}
	return out
}

// Module is one course unit keyed by code in the answer context.
type Module struct {
	Code   string
	Fields map[string]any
}

// AggregateModules collects modules from formation_info.programme.modules,
// programme.modules and module_info. A later module with the same code
// replaces the earlier one but keeps its position.
func AggregateModules(passages []models.Passage) []Module {
	var order []string
	byCode := map[string]map[string]any{}
	add := func(v any) {
		m, ok := v.(map[string]any)
		if !ok || m["code"] == nil {
			return
		}
		code := fmt.Sprint(m["code"])
		if _, seen := byCode[code]; !seen {
			order = append(order, code)
		}
		byCode[code] = StandardizeModule(m)
	}
	addAll := func(programme any) {
		p, ok := programme.(map[string]any)
		if !ok {
			return
		}
		if mods, ok := p["modules"].([]any); ok {
			for _, m := range mods {
				add(m)
			}
		}
	}
	for _, p := range passages {
		if fi, ok := p.Metadata["formation_info"].(map[string]any); ok {
			addAll(fi["programme"])
		}
		addAll(p.Metadata["programme"])
		add(p.Metadata["module_info"])
	}
	out := make([]Module, 0, len(order))
	for _, code := range order {
		out = append(out, Module{Code: code, Fields: byCode[code]})
	}
	return out
}

// StandardizeModule returns a copy of m with code, intitule and
// volume_horaire present.
func StandardizeModule(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	for _, field := range []string{"code", "intitule"} {
		if _, ok := out[field]; !ok {
			out[field] = notSpecified
		}
	}
	if _, ok := out["volume_horaire"]; !ok {
		out["volume_horaire"] = map[string]any{"cours": 0, "td": 0, "tp": 0, "total": 0}
	}
	return out
}

// BuildContext renders the structured context sent with the question:
// aggregated formation info, modules, then excerpts of the first passages.
func BuildContext(passages []models.Passage) string {
	var parts []string
	parts = append(parts, "=== INFORMATIONS GÉNÉRALES ===", toJSON(AggregateFormationInfo(passages), true))
	if modules := AggregateModules(passages); len(modules) > 0 {
		parts = append(parts, "\n=== MODULES DU PROGRAMME ===")
		for _, m := range modules {
			parts = append(parts, fmt.Sprintf("\n--- MODULE %s ---", m.Code), toJSON(m.Fields, true))
		}
	}
	parts = append(parts, "\n=== CONTENU DES DOCUMENTS ===")
	for i, p := range passages {
		if i == contextDocs {
			break
		}
		parts = append(parts,
			fmt.Sprintf("\n--- DOCUMENT %d ---", i+1),
			"Métadonnées: "+toJSON(p.Metadata.WithoutEmbedding(), false),
			"Contenu: "+Snippet(p.Text, contextExcerpt),
		)
	}
	return strings.Join(parts, "\n")
}

// toJSON encodes v without HTML escaping, indented by two spaces when indent
// is set.
func toJSON(v any, indent bool) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}
