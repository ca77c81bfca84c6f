package nutrition

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidResponse(t *testing.T) {
	raw := "```json\n" + `{
		"items": [
			{"name": "buckwheat", "weight_grams": 200, "calories": 300, "protein": 10, "fat": 3, "carbs": 57, "confidence": 0.9},
			{"name": "chicken breast", "weight_grams": 150, "calories": 248, "protein": 46, "fat": 5, "carbs": 0}
		]
	}` + "\n```"

	p, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, p.Items, 2)

	assert.Equal(t, "buckwheat", p.Items[0].Name)
	assert.Equal(t, 200, p.Items[0].Weight)
	assert.Equal(t, 300.0, p.Items[0].Calories)
	assert.Equal(t, 0.9, p.Items[0].Confidence)

	// Absent confidence defaults.
	assert.Equal(t, DefaultConfidence, p.Items[1].Confidence)

	cal, prot, fat, carbs := p.Totals()
	assert.Equal(t, 548.0, cal)
	assert.Equal(t, 56.0, prot)
	assert.Equal(t, 8.0, fat)
	assert.Equal(t, 57.0, carbs)
}

func TestParseSurroundingChatter(t *testing.T) {
	raw := `Here is your estimate:
	{"items": [{"name": "apple", "weight_grams": 180, "calories": 94, "protein": 0.5, "fat": 0.3, "carbs": 25}]}
	Enjoy!`

	p, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "apple", p.Items[0].Name)
}

func TestParseNumericStrings(t *testing.T) {
	raw := `{"items": [{"name": "soup", "weight_grams": "300", "calories": "150,5", "protein": "5", "fat": "4", "carbs": "20"}]}`

	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 300, p.Items[0].Weight)
	assert.Equal(t, 150.5, p.Items[0].Calories)
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"malformed json", `{"items": [}`, "malformed JSON"},
		{"no object", "just some text", "no JSON object"},
		{"missing items", `{"foods": []}`, "no food items"},
		{"empty items", `{"items": []}`, "no food items"},
		{"missing field", `{"items": [{"name": "x", "weight_grams": 100, "calories": 100, "protein": 1, "fat": 1}]}`, "missing field"},
		{"non numeric", `{"items": [{"name": "x", "weight_grams": "heavy", "calories": 100, "protein": 1, "fat": 1, "carbs": 1}]}`, "not a number"},
		{"nameless item", `{"items": [{"weight_grams": 100, "calories": 100, "protein": 1, "fat": 1, "carbs": 1}]}`, "has no name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			require.Error(t, err)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestParseWeightOutOfRange(t *testing.T) {
	raw := `{"items": [{"name": "feast", "weight_grams": 6000, "calories": 100, "protein": 1, "fat": 1, "carbs": 1}]}`

	_, err := Parse(raw)
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "weight_grams", pe.Field)
	assert.Equal(t, "feast", pe.Item)
	assert.True(t, strings.Contains(pe.Reason, "6000"))
}

func TestParseOneBadItemRejectsBatch(t *testing.T) {
	raw := `{"items": [
		{"name": "fine", "weight_grams": 100, "calories": 100, "protein": 5, "fat": 2, "carbs": 15},
		{"name": "bad", "weight_grams": 100, "calories": 9000, "protein": 5, "fat": 2, "carbs": 15}
	]}`

	_, err := Parse(raw)
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "calories", pe.Field)
	assert.Equal(t, "bad", pe.Item)
}

func TestParseConfidenceCoercion(t *testing.T) {
	// Out-of-range and non-numeric confidence fall back to the default
	// instead of rejecting the item.
	raw := `{"items": [
		{"name": "a", "weight_grams": 100, "calories": 100, "protein": 5, "fat": 2, "carbs": 15, "confidence": 1.7},
		{"name": "b", "weight_grams": 100, "calories": 100, "protein": 5, "fat": 2, "carbs": 15, "confidence": "high"},
		{"name": "c", "weight_grams": 100, "calories": 100, "protein": 5, "fat": 2, "carbs": 15, "confidence": 0.25}
	]}`

	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfidence, p.Items[0].Confidence)
	assert.Equal(t, DefaultConfidence, p.Items[1].Confidence)
	assert.Equal(t, 0.25, p.Items[2].Confidence)
}
