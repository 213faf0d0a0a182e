// internal/models/taxonomy.go
package models

import "strings"

// Category is one bucket of the fixed condition taxonomy.
type Category string

const (
	CategoryGenetic             Category = "Genetic"
	CategoryRecentEvents        Category = "RecentEvents"
	CategoryOtherMajorDiagnosis Category = "OtherMajorDiagnosis"
)

// Categories lists the taxonomy in response order. The set is closed.
var Categories = []Category{
	CategoryGenetic,
	CategoryRecentEvents,
	CategoryOtherMajorDiagnosis,
}

// TaxonomyResult is what /api/categorize returns.
type TaxonomyResult struct {
	// Summary maps each category to its master terms, first-seen order, no duplicates.
	Summary map[Category][]string `json:"summary"`
	// Lookup maps a normalized input term to its master term.
	Lookup map[string]string `json:"lookup"`
}

// NewTaxonomyResult returns a result with every category present and empty.
func NewTaxonomyResult() *TaxonomyResult {
	summary := make(map[Category][]string, len(Categories))
	for _, c := range Categories {
		summary[c] = []string{}
	}
	return &TaxonomyResult{
		Summary: summary,
		Lookup:  map[string]string{},
	}
}

// MasterTerms returns every master term in the summary.
func (r *TaxonomyResult) MasterTerms() map[string]struct{} {
	out := map[string]struct{}{}
	for _, terms := range r.Summary {
		for _, t := range terms {
			out[t] = struct{}{}
		}
	}
	return out
}

// OrphanLookups returns lookup keys whose master term is missing from the
// summary. The model is the source of truth, so this is reported, not fixed.
func (r *TaxonomyResult) OrphanLookups() []string {
	masters := r.MasterTerms()
	var orphans []string
	for term, master := range r.Lookup {
		if _, ok := masters[master]; !ok {
			orphans = append(orphans, term)
		}
	}
	return orphans
}

// PartialResult counts chunk outcomes. Single-batch runs report 1/1.
type PartialResult struct {
	ChunksAttempted int `json:"chunksAttempted"`
	ChunksSucceeded int `json:"chunksSucceeded"`
}

// Complete is true when no chunk was skipped.
func (p PartialResult) Complete() bool {
	return p.ChunksAttempted == p.ChunksSucceeded
}

// NormalizeTerm is the lookup key form of a condition term.
func NormalizeTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}
