// internal/workers/taxonomy/categorize-conditions/models.go
package categorizeconditions

import (
	"fmt"
	"strings"

	"trial-screener/internal/models"

	"github.com/tidwall/gjson"
)

// Conditions accepts either a comma-separated string or a list of strings.
type Conditions []string

func (c *Conditions) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("conditions: invalid JSON")
	}

	value := gjson.ParseBytes(data)
	switch {
	case value.Type == gjson.Null:
		*c = nil
	case value.Type == gjson.String:
		*c = strings.Split(value.String(), ",")
	case value.IsArray():
		items := make([]string, 0, len(value.Array()))
		for _, item := range value.Array() {
			switch item.Type {
			case gjson.String, gjson.Number:
				items = append(items, item.String())
			case gjson.Null:
			default:
				return fmt.Errorf("conditions: list items must be strings")
			}
		}
		*c = items
	default:
		return fmt.Errorf("conditions: expected a string or a list of strings")
	}
	return nil
}

// Normalize trims every term and drops the empty ones, keeping order.
func (c Conditions) Normalize() []string {
	terms := make([]string, 0, len(c))
	for _, term := range c {
		if t := strings.TrimSpace(term); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

type Input struct {
	Conditions Conditions `json:"conditions"`
}

// Mode names the routing decision for a run.
const (
	ModeSingle  = "single"
	ModeChunked = "chunked"
)

type Output struct {
	Result  *models.TaxonomyResult
	Partial models.PartialResult
	Mode    string
	Cached  bool
	RunID   string
}

// classificationPayload is the shape the prompts ask the model for. It is
// only used to derive the advisory JSON schema.
type classificationPayload struct {
	SummaryLists summaryLists        `json:"SummaryLists" jsonschema:"required"`
	TermMapping  map[string][]string `json:"TermMapping" jsonschema:"required"`
}

type summaryLists struct {
	Genetic             []string `json:"Genetic,omitempty"`
	RecentEvents        []string `json:"RecentEvents,omitempty"`
	OtherMajorDiagnosis []string `json:"OtherMajorDiagnosis,omitempty"`
}
