package config

// DefaultFormationPatterns returns the regular expressions that identify each
// master's program in filenames and document bodies.
func DefaultFormationPatterns() []FormationPattern {
	return []FormationPattern{
		{ID: "MST_RSI", Patterns: []string{
			`master.*réseaux.*systèmes.*informatiques`,
			`master.*rsi`,
			`réseaux.*systèmes.*informatiques`,
		}},
		{ID: "MST_GL", Patterns: []string{
			`master.*génie.*logiciel`,
			`master.*gl`,
			`génie.*logiciel`,
		}},
		{ID: "MST_IA", Patterns: []string{
			`master.*intelligence.*artificielle`,
			`master.*ia`,
			`intelligence.*artificielle`,
		}},
		{ID: "MST_BD", Patterns: []string{
			`master.*base.*données`,
			`master.*big.*data`,
			`master.*bd`,
			`big.*data`,
		}},
	}
}

// DefaultDocumentTypes maps phrases to document types, checked in order.
func DefaultDocumentTypes() []KeywordSet {
	return []KeywordSet{
		{Name: "filiere", Keywords: []string{"descriptif de filière", "filière"}},
		{Name: "module", Keywords: []string{"descriptif de module", "module"}},
		{Name: "planning", Keywords: []string{"emploi du temps", "planning"}},
		{Name: "examen", Keywords: []string{"examen", "contrôle"}},
	}
}

// DefaultSectionKeywords lists section names recognised inside chunks.
func DefaultSectionKeywords() []string {
	return []string{"programme", "objectifs", "competences", "modules", "contenu", "evaluation", "bibliographie"}
}

// DefaultDomainKeywords returns the embedding boost table.
func DefaultDomainKeywords() []KeywordWeight {
	return []KeywordWeight{
		{Keyword: "mst", Weight: 1.5},
		{Keyword: "master", Weight: 1.5},
		{Keyword: "formation", Weight: 1.1},
		{Keyword: "fsts", Weight: 1.3},
		{Keyword: "settat", Weight: 1.3},
		{Keyword: "sciences", Weight: 1.1},
		{Keyword: "techniques", Weight: 1.1},
		{Keyword: "module", Weight: 1.2},
		{Keyword: "semestre", Weight: 1.2},
	}
}

// DefaultFormationKeywords returns the question-side program keywords.
func DefaultFormationKeywords() []KeywordSet {
	return []KeywordSet{
		{Name: "MST_RSI_FST_SETTAT", IndexID: "MST_RSI", Keywords: []string{"mst", "rsi", "réseau", "système", "informatique"}},
		{Name: "marketing digital", Keywords: []string{"marketing", "digital", "numérique", "communication"}},
	}
}

// DefaultIntentKeywords returns the intent taxonomy in tie-break order.
func DefaultIntentKeywords() []KeywordSet {
	return []KeywordSet{
		{Name: "admission", Keywords: []string{"admission", "prérequis", "conditions", "inscription", "candidature", "postuler"}},
		{Name: "programme", Keywords: []string{"programme", "cours", "module", "matière", "contenu", "enseigne"}},
		{Name: "débouchés", Keywords: []string{"débouché", "carrière", "métier", "profession", "travail", "emploi"}},
		{Name: "objectifs", Keywords: []string{"objectif", "compétence", "apprentissage", "apprendre", "acquérir"}},
		{Name: "contact", Keywords: []string{"contact", "email", "téléphone", "adresse", "responsable", "coordonnées"}},
		{Name: "général", Keywords: []string{"formation", "master", "licence", "filière", "département"}},
	}
}
