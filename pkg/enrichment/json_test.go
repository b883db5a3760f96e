package enrichment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealmatch/matchengine/pkg/models"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
		wantErr  bool
	}{
		{
			name:     "bare object",
			response: `{"industry": "hvac"}`,
			want:     `{"industry": "hvac"}`,
		},
		{
			name:     "markdown fence",
			response: "Here you go:\n```json\n{\"industry\": \"hvac\"}\n```\n",
			want:     `{"industry": "hvac"}`,
		},
		{
			name:     "nested braces and strings",
			response: `prefix {"summary": "uses {braces} and \"quotes\"", "revenue": {"value": 1}} suffix`,
			want:     `{"summary": "uses {braces} and \"quotes\"", "revenue": {"value": 1}}`,
		},
		{
			name:     "no object",
			response: "I could not find anything.",
			wantErr:  true,
		},
		{
			name:     "unterminated object",
			response: `{"industry": "hvac"`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONObject(tt.response)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLookupResult(t *testing.T) {
	response := "```json\n" + `{
		"revenue": {"value": 2400000, "confidence": "medium", "inferred": false},
		"ebitda": {"value": null, "confidence": "low", "inferred": true},
		"industry": "hvac",
		"locations": ["Texas"],
		"employee_count": 18
	}` + "\n```"

	result, err := parseLookupResult(response)
	require.NoError(t, err)

	require.NotNil(t, result.Revenue.Value)
	assert.Equal(t, 2_400_000.0, *result.Revenue.Value)
	assert.Equal(t, models.ConfidenceMedium, result.Revenue.Confidence)
	assert.Nil(t, result.EBITDA.Value)
	assert.Equal(t, "hvac", *result.Industry)
	assert.Equal(t, []string{"Texas"}, result.Locations)
	assert.Equal(t, 18, *result.EmployeeCount)
	assert.Nil(t, result.Summary)
}

func TestParseLookupResult_ToleratesDecoratedFigures(t *testing.T) {
	response := `{
		"revenue": {"value": "$2,500,000", "confidence": "HIGH", "inferred": false},
		"ebitda": {"value": "unknown", "confidence": "low", "inferred": true}
	}`

	result, err := parseLookupResult(response)
	require.NoError(t, err)

	require.NotNil(t, result.Revenue.Value)
	assert.Equal(t, 2_500_000.0, *result.Revenue.Value)
	assert.Equal(t, models.ConfidenceHigh, result.Revenue.Confidence)
	assert.Nil(t, result.EBITDA.Value)
}
