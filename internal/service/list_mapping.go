package service

import (
	"strings"

	"github.com/vipul43/leadsync/internal/models"
)

// ClassificationRule assigns Stage to a list whose lower-cased name contains any keyword
type ClassificationRule struct {
	Keywords []string
	Stage    string
}

// DefaultStage is used for unmatched list names and for cards on unmapped lists
const DefaultStage = models.LeadStatusNew

// DefaultClassificationRules are evaluated in order; the first match wins
var DefaultClassificationRules = []ClassificationRule{
	{Keywords: []string{"nuevo", "new", "pendiente"}, Stage: models.LeadStatusNew},
	{Keywords: []string{"progreso", "progress", "trabajando"}, Stage: models.LeadStatusInProgress},
	{Keywords: []string{"cotizado", "quoted", "presupuesto"}, Stage: models.LeadStatusQuoted},
	{Keywords: []string{"ganado", "won", "cerrado"}, Stage: models.LeadStatusWon},
	{Keywords: []string{"perdido", "lost", "cancelado"}, Stage: models.LeadStatusLost},
}

type ListMappingResolver struct {
	rules []ClassificationRule
}

func NewListMappingResolver(rules []ClassificationRule) *ListMappingResolver {
	if rules == nil {
		rules = DefaultClassificationRules
	}
	return &ListMappingResolver{rules: rules}
}

// Classify returns the stage for a list name
func (r *ListMappingResolver) Classify(name string) string {
	lower := strings.ToLower(name)
	for _, rule := range r.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return rule.Stage
			}
		}
	}
	return DefaultStage
}

// Resolve adds an entry for every open list missing from current and returns the
// merged mapping with the number of entries added. Existing entries are never
// reclassified, so operator corrections survive. current is not modified.
func (r *ListMappingResolver) Resolve(current models.ListMapping, lists []BoardList) (models.ListMapping, int) {
	merged := current.Clone()
	added := 0
	for _, l := range lists {
		if _, ok := merged[l.ID]; ok {
			continue
		}
		merged[l.ID] = models.ListMappingEntry{Stage: r.Classify(l.Name)}
		added++
	}
	return merged, added
}
