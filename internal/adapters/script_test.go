package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type fakeModel struct {
	resp  *genai.GenerateContentResponse
	err   error
	calls int
	parts []genai.Part
}

func (m *fakeModel) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	m.calls++
	m.parts = parts
	return m.resp, m.err
}

func textResponse(chunks ...string) *genai.GenerateContentResponse {
	var parts []genai.Part
	for _, c := range chunks {
		parts = append(parts, genai.Text(c))
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func TestWriteScript(t *testing.T) {
	model := &fakeModel{resp: textResponse("  In a right triangle, ", "the squares add up.  ")}
	w := &ScriptWriter{model: model}

	script, err := w.WriteScript(context.Background(), "Explain the Pythagorean theorem")
	require.NoError(t, err)
	assert.Equal(t, "In a right triangle, the squares add up.", script)
	require.Len(t, model.parts, 1)
	assert.Contains(t, string(model.parts[0].(genai.Text)), "Explain the Pythagorean theorem")
}

func TestWriteScriptValidatesBeforeCalling(t *testing.T) {
	model := &fakeModel{}
	w := &ScriptWriter{model: model}

	_, err := w.WriteScript(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, model.calls)
}

func TestWriteScriptUpstreamError(t *testing.T) {
	model := &fakeModel{err: &googleapi.Error{Code: 429, Message: "quota exceeded"}}
	w := &ScriptWriter{model: model}

	_, err := w.WriteScript(context.Background(), "Fourier series")
	var aerr *AdapterError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, 429, aerr.StatusCode)
	assert.Equal(t, "Gemini API error: 429 quota exceeded", aerr.Error())
}

func TestWriteScriptTimeout(t *testing.T) {
	model := &fakeModel{err: context.DeadlineExceeded}
	w := &ScriptWriter{model: model}

	_, err := w.WriteScript(context.Background(), "Fourier series")
	var aerr *AdapterError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, 504, aerr.StatusCode)
}

func TestWriteScriptEmptyCandidates(t *testing.T) {
	w := &ScriptWriter{model: &fakeModel{resp: &genai.GenerateContentResponse{}}}

	_, err := w.WriteScript(context.Background(), "Fourier series")
	var aerr *AdapterError
	require.True(t, errors.As(err, &aerr))
	assert.Contains(t, aerr.Message, "malformed")
}
