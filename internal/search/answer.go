package search

import (
	"fmt"
	"strings"

	"github.com/fstsettat/formabot/internal/models"
)

// Fixed answers.
const (
	ApologyAnswer       = "Je suis désolé, je ne trouve pas l'information demandée."
	ErrorAnswer         = "Une erreur est survenue lors du traitement de votre question."
	ShortQuestionAnswer = "Veuillez poser une question plus détaillée."
	unknownAnswer       = "Je ne trouve pas d'informations spécifiques pour votre demande. " +
		"Pourriez-vous préciser la formation qui vous intéresse ?"
)

var noInfoTemplates = map[string]string{
	"admission": "Je ne trouve pas les conditions d'admission pour la formation %s. " +
		"Vous pouvez contacter directement le secrétariat pour plus d'informations.",
	"programme": "Je ne trouve pas le programme détaillé de la formation %s. " +
		"Le programme est peut-être en cours de mise à jour.",
	"débouchés": "Je ne trouve pas les débouchés spécifiques pour %s. " +
		"Je vous conseille de consulter la page de la formation sur le site de la FST.",
	"objectifs": "Je ne trouve pas les objectifs précis de la formation %s. " +
		"Vous pouvez consulter la brochure de la formation pour plus de détails.",
	"contact": "Je ne trouve pas les coordonnées de la formation %s. " +
		"Vous pouvez vous adresser au service de scolarité de la FST Settat.",
	"général": "Je ne trouve pas d'informations générales sur la formation %s. " +
		"Essayez de poser une question plus spécifique ou consultez le site de la FST.",
}

// NoInfoAnswer returns the deterministic answer used when retrieval finds
// nothing for the formation and intent.
func NoInfoAnswer(formationID, intent string) string {
	if formationID == models.UnknownFormation {
		return unknownAnswer
	}
	if tmpl, ok := noInfoTemplates[intent]; ok {
		return fmt.Sprintf(tmpl, formationID)
	}
	return ApologyAnswer
}

// BuildPrompt returns the expert instructions for question. The retrieved
// context is sent separately and rendered by the completer.
func BuildPrompt(question, formationID string) string {
	return fmt.Sprintf(`Vous êtes un expert des formations universitaires à la FST Settat.
Les informations disponibles sur la formation %[1]s sont fournies ci-dessus.

[INSTRUCTIONS]
- Répondez exclusivement en français
- Structurez votre réponse avec des sections claires
- Pour les questions sur les modules, listez TOUS les modules disponibles
- Mentionnez quand une information est manquante
- Soyez exhaustif mais concis

[QUESTION]
%[2]s

[FORMAT DE RÉPONSE ATTENDU]
# Réponse pour %[1]s

## Modules du programme
- [Code] Intitulé (Volume horaire: Xh)
  Objectifs: ...
  Prérequis: ...

## Informations générales
...

Veuillez fournir votre réponse ci-dessous:`, formationID, question)
}

var boilerplatePhrases = []string{
	"D'après le contexte fourni",
	"Selon les documents",
	"Je suis un AI assistant",
	"En tant qu'IA",
}

// PostProcess strips assistant boilerplate and puts headings and list items
// on their own lines.
func PostProcess(answer string) string {
	for _, phrase := range boilerplatePhrases {
		answer = strings.ReplaceAll(answer, phrase, "")
	}
	answer = strings.ReplaceAll(answer, "##", "\n##")
	answer = strings.ReplaceAll(answer, " - ", "\n- ")
	return strings.TrimSpace(answer)
}
