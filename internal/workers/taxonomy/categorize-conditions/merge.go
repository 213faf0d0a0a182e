// internal/workers/taxonomy/categorize-conditions/merge.go
package categorizeconditions

import (
	"trial-screener/internal/common/llmjson"
	"trial-screener/internal/models"

	"github.com/tidwall/gjson"
)

// accumulator folds model payloads into one TaxonomyResult. Summary lists are
// appended as-is and deduplicated on result(); lookup keys are last-write-wins.
type accumulator struct {
	summary map[models.Category][]string
	lookup  map[string]string
}

func newAccumulator() *accumulator {
	return &accumulator{
		summary: make(map[models.Category][]string, len(models.Categories)),
		lookup:  map[string]string{},
	}
}

func (a *accumulator) add(obj *llmjson.Object) {
	for _, category := range models.Categories {
		terms := obj.Get("SummaryLists." + string(category))
		if !terms.IsArray() {
			continue
		}
		for _, term := range terms.Array() {
			if term.Type == gjson.String && term.Str != "" {
				a.summary[category] = append(a.summary[category], term.Str)
			}
		}
	}

	mapping := obj.Get("TermMapping")
	if !mapping.IsObject() {
		return
	}
	mapping.ForEach(func(master, originals gjson.Result) bool {
		if !originals.IsArray() {
			return true
		}
		for _, original := range originals.Array() {
			if !truthy(original) {
				continue
			}
			if key := models.NormalizeTerm(original.String()); key != "" {
				a.lookup[key] = master.String()
			}
		}
		return true
	})
}

func (a *accumulator) result() *models.TaxonomyResult {
	result := models.NewTaxonomyResult()
	for category, terms := range a.summary {
		result.Summary[category] = dedupe(terms)
	}
	for k, v := range a.lookup {
		result.Lookup[k] = v
	}
	return result
}

func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return v.Str != ""
	case gjson.Number:
		return v.Num != 0
	}
	return true
}

// dedupe keeps the first occurrence of each term.
func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// partition splits terms into consecutive groups of at most size.
func partition(terms []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	chunks := make([][]string, 0, (len(terms)+size-1)/size)
	for start := 0; start < len(terms); start += size {
		end := start + size
		if end > len(terms) {
			end = len(terms)
		}
		chunks = append(chunks, terms[start:end])
	}
	return chunks
}
