package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultReaction is returned when no reaction keyword matches.
const DefaultReaction = "[INFO]"

const maxReactions = 3

type reaction struct {
	phrase string
	tag    string
}

var reactionTable = []reaction{
	{"formation", "[DEGREE]"}, {"cours", "[BOOK]"}, {"diplome", "[SCROLL]"},
	{"examen", "[PENCIL]"}, {"etude", "[BRAIN]"}, {"universite", "[BUILDING]"},
	{"professeur", "[TEACHER]"}, {"temps", "[HOURGLASS]"}, {"duree", "[STOPWATCH]"},
	{"delai", "[HOURGLASS]"}, {"date", "[CALENDAR]"}, {"annee", "[CALENDAR]"},
	{"semestre", "[CALENDAR]"}, {"heure", "[CLOCK]"}, {"bonjour", "[WAVE]"},
	{"salut", "[SMILE]"}, {"coucou", "[HUG]"}, {"hello", "[HAND]"},
	{"how are you", "[SMILE]"}, {"ca va", "[THUMBSUP]"}, {"bienvenue", "[OPENARMS]"},
	{"inscription", "[PAPER]"}, {"dossier", "[FILE]"}, {"document", "[DOC]"},
	{"administration", "[BUILDING]"}, {"scolarite", "[CLIPBOARD]"},
	{"quoi", "[QUESTION]"}, {"quand", "[CLOCK]"}, {"comment", "[THINK]"},
	{"pourquoi", "[QUESTION]"}, {"ou", "[LOCATION]"}, {"qui", "[PERSON]"},
}

// Reactions returns up to three distinct tags for the chat front end, in
// table order. Keywords match whole words, ignoring case and accents.
func Reactions(question string) []string {
	text := " " + strings.Join(strings.FieldsFunc(foldAccents(strings.ToLower(question)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ") + " "

	var tags []string
	seen := map[string]bool{}
	for _, r := range reactionTable {
		if seen[r.tag] || !strings.Contains(text, " "+r.phrase+" ") {
			continue
		}
		seen[r.tag] = true
		tags = append(tags, r.tag)
		if len(tags) == maxReactions {
			break
		}
	}
	if len(tags) == 0 {
		return []string{DefaultReaction}
	}
	return tags
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
