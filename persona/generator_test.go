package persona

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svarunid/voiceflow/providers"
	"github.com/svarunid/voiceflow/store"
)

const validPersonaJSON = `{
	"full_name": "Arjun Mehta",
	"age": 38,
	"gender": "male",
	"debt_amount": 750000,
	"due_date": "2026-05-01",
	"description": "Small business owner whose shop flooded last monsoon. Defensive at first, cooperative once treated with respect. Cannot pay in full but could manage installments."
}`

func TestGenerateSuccess(t *testing.T) {
	ctx := context.Background()
	personas := store.NewMemoryPersonaStore()
	mock := providers.NewMockProvider("mock", validPersonaJSON)

	g, err := NewGenerator(mock, personas)
	require.NoError(t, err)

	p, err := g.Generate(ctx, "a struggling shop owner")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Arjun Mehta", p.FullName)
	assert.Equal(t, int64(750000), p.DebtAmount)

	// The record was persisted.
	stored, err := personas.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.FullName, stored.FullName)

	// The model was asked for JSON with the fixed instruction.
	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].JSONResponse)
	assert.Contains(t, reqs[0].System, "persona generator")
	assert.Contains(t, reqs[0].Messages[0].Content, "a struggling shop owner")
}

func TestGenerateAcceptsFencedJSON(t *testing.T) {
	personas := store.NewMemoryPersonaStore()
	mock := providers.NewMockProvider("mock", "```json\n"+validPersonaJSON+"\n```")

	g, err := NewGenerator(mock, personas)
	require.NoError(t, err)

	p, err := g.Generate(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "Arjun Mehta", p.FullName)
}

func TestGenerateRejectsMalformedOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"not json", "I'd be happy to create a persona for you!"},
		{"missing fields", `{"full_name": "X", "age": 30}`},
		{"wrong type", `{"full_name": "X", "age": "thirty", "gender": "male", "debt_amount": 1000, "due_date": "2026-01-01", "description": "d"}`},
		{"bad gender", `{"full_name": "X", "age": 30, "gender": "robot", "debt_amount": 1000, "due_date": "2026-01-01", "description": "d"}`},
		{"bad date", `{"full_name": "X", "age": 30, "gender": "male", "debt_amount": 1000, "due_date": "soon", "description": "d"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			personas := store.NewMemoryPersonaStore()
			g, err := NewGenerator(providers.NewMockProvider("mock", tt.output), personas)
			require.NoError(t, err)

			_, err = g.Generate(context.Background(), "anything")
			require.Error(t, err)
			assert.True(t, providers.IsGenerationError(err))

			// No partial record on failure.
			list, err := personas.List(context.Background(), store.ListOptions{})
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestGenerateUpstreamError(t *testing.T) {
	personas := store.NewMemoryPersonaStore()
	boom := errors.New("upstream 500")
	mock := providers.NewMockProvider("mock", validPersonaJSON).FailWith(boom)

	g, err := NewGenerator(mock, personas)
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, providers.IsGenerationError(err))
	assert.ErrorIs(t, err, boom)
}
