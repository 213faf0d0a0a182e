// internal/workers/taxonomy/categorize-conditions/models_test.go
package categorizeconditions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditions_Unmarshal(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected []string
		wantErr  bool
	}{
		{
			name:     "comma separated string",
			body:     `{"conditions": "BRCA1 mutation, recent appendectomy ,, type 2 diabetes"}`,
			expected: []string{"BRCA1 mutation", "recent appendectomy", "type 2 diabetes"},
		},
		{
			name:     "list with blanks and nulls",
			body:     `{"conditions": ["asthma", "", null, "  copd  "]}`,
			expected: []string{"asthma", "copd"},
		},
		{
			name:     "numbers are stringified",
			body:     `{"conditions": ["trisomy", 21]}`,
			expected: []string{"trisomy", "21"},
		},
		{
			name:     "null",
			body:     `{"conditions": null}`,
			expected: []string{},
		},
		{
			name:    "object",
			body:    `{"conditions": {"a": 1}}`,
			wantErr: true,
		},
		{
			name:    "nested list",
			body:    `{"conditions": [["a"]]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var input Input
			err := json.Unmarshal([]byte(tt.body), &input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, input.Conditions.Normalize())
		})
	}
}

func TestPrompts(t *testing.T) {
	batch := batchPrompt([]string{"a", "b"})
	assert.Contains(t, batch, "EVERY term provided in the Input List")
	assert.Contains(t, batch, `"SummaryLists": {`)
	assert.Contains(t, batch, "Input List: a, b")

	chunk := chunkPrompt([]string{"c"})
	assert.Contains(t, chunk, "Most terms provided in the Input List")
	assert.NotContains(t, chunk, "Aim for 5-15")
	assert.Contains(t, chunk, "Input List: c")
}
