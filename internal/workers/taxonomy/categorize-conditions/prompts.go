// internal/workers/taxonomy/categorize-conditions/prompts.go
package categorizeconditions

import (
	"strings"
)

const promptHeader = `Role: You are a Clinical Trial Data Architect specializing in medical taxonomy. You output ONLY valid JSON. Do not include any conversational text or markdown formatting.

Task: Analyze the provided list of clinical conditions and categorize every single term into the structured schema below.

Classification Rules:
1. Genetic: Chromosomal anomalies, hereditary syndromes, or gene mutations.
2. RecentEvents: Acute states, physical symptoms, surgical interventions, or recent medical events.
3. OtherMajorDiagnosis: Chronic diseases, primary malignancies, and systemic long-term conditions.
`

const batchConstraint = `
- Aim for 5-15 major terms total

Constraint: EVERY term provided in the Input List must be included in the "TermMapping" object. Do not truncate the list.
`

const chunkConstraint = `
Constraint: Most terms provided in the Input List must be included in the "TermMapping" object.
`

const outputSchema = `
Output Schema:
{
  "SummaryLists": {
    "Genetic": ["Master Term 1", "Master Term 2"],
    "RecentEvents": ["Master Term 3"],
    "OtherMajorDiagnosis": ["Master Term 4"]
  },
  "TermMapping": {
    "Master Term 1": ["original_string_a", "original_string_b"],
    "Master Term 3": ["original_string_c"]
  }
}

Input List: `

// batchPrompt classifies the whole list in one call.
func batchPrompt(terms []string) string {
	return buildPrompt(batchConstraint, terms)
}

// chunkPrompt classifies one sub-list of a chunked run.
func chunkPrompt(terms []string) string {
	return buildPrompt(chunkConstraint, terms)
}

func buildPrompt(constraint string, terms []string) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString(constraint)
	b.WriteString(outputSchema)
	b.WriteString(strings.Join(terms, ", "))
	return b.String()
}
