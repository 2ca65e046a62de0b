package embedding

import (
	"fmt"
	"strings"

	"github.com/fstsettat/formabot/internal/models"
)

// augmentField is one labelled metadata value in the summary line.
type augmentField struct {
	label  string
	keys   []string
	format func(v any) string
}

var augmentFields = []augmentField{
	{label: "FORMATION", keys: []string{"formation_name"}},
	{label: "TYPE", keys: []string{"formation_type"}},
	{label: "NIVEAU", keys: []string{"niveau"}},
	{label: "DEPARTEMENT", keys: []string{"departement"}},
	{label: "CREDITS", keys: []string{"credits"}, format: func(v any) string { return fmt.Sprintf("%v ECTS", v) }},
	{label: "RESPONSABLES", keys: []string{"responsables"}, format: formatResponsables},
	{label: "SEMESTRE", keys: []string{"semestre", models.KeySemester}},
	{label: "MODULE", keys: []string{models.KeyModuleCode}},
	{label: "INTITULE_MODULE", keys: []string{models.KeyModuleName}},
	{label: "SECTION", keys: []string{models.KeySectionType}, format: func(v any) string { return strings.ToUpper(fmt.Sprint(v)) }},
	{label: "ID_FORMATION", keys: []string{models.KeyFormationID}},
	{label: "ID_CHUNK", keys: []string{models.KeyChunkID}},
}

// Summary returns the " || "-joined labelled fields present in meta, or "".
func Summary(meta models.Metadata) string {
	var parts []string
	for _, f := range augmentFields {
		for _, key := range f.keys {
			v, ok := meta[key]
			if !ok || isZero(v) {
				continue
			}
			s := fmt.Sprint(v)
			if f.format != nil {
				s = f.format(v)
			}
			if s != "" {
				parts = append(parts, f.label+": "+s)
			}
			break
		}
	}
	return strings.Join(parts, " || ")
}

// Augment prefixes text with the metadata summary line and a blank line.
func Augment(text string, meta models.Metadata) string {
	summary := Summary(meta)
	if summary == "" {
		return text
	}
	return summary + "\n\n" + text
}

// formatResponsables accepts a list of names or a list of maps carrying "nom".
// Mixed lists yield "".
func formatResponsables(v any) string {
	var names []string
	switch x := v.(type) {
	case []string:
		names = x
	case []any:
		allMaps, allStrings := true, true
		for _, item := range x {
			switch it := item.(type) {
			case string:
				allMaps = false
				names = append(names, it)
			case map[string]any:
				allStrings = false
				if nom, ok := it["nom"]; ok {
					names = append(names, fmt.Sprint(nom))
				}
			default:
				return ""
			}
		}
		if !allMaps && !allStrings {
			return ""
		}
	default:
		return ""
	}
	return strings.Join(names, ", ")
}

func isZero(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case int:
		return x == 0
	case float64:
		return x == 0
	case bool:
		return !x
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	}
	return false
}
