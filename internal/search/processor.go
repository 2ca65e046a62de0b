package search

import (
	"strings"

	"github.com/fstsettat/formabot/internal/models"
)

// ProcessQuery trims the search query and applies defaults.
func ProcessQuery(query *models.SearchQuery) error {
	query.Query = strings.TrimSpace(query.Query)
	query.FormationID = strings.TrimSpace(query.FormationID)
	return query.Validate()
}
