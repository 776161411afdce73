package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const geminiService = "Gemini"

const scriptSystemPrompt = `You write narration scripts for short animated math and science explainers.
Write plain spoken prose only: no headings, no stage directions, no markdown.
Explain one idea at a time so each sentence can be paired with an on-screen animation step.
Keep the narration between 120 and 220 words.`

// textModel is the part of *genai.GenerativeModel the script writer uses.
type textModel interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// ScriptWriter generates narration text with Gemini.
type ScriptWriter struct {
	model  textModel
	client *genai.Client
}

func NewScriptWriter(ctx context.Context, apiKey, modelName string) (*ScriptWriter, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(scriptSystemPrompt)}}
	model.SetTemperature(0.7)

	return &ScriptWriter{model: model, client: client}, nil
}

func (w *ScriptWriter) Close() error {
	if w.client == nil {
		return nil
	}
	return w.client.Close()
}

// WriteScript returns narration for prompt.
func (w *ScriptWriter) WriteScript(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", invalidInput(geminiService, "prompt")
	}

	resp, err := w.model.GenerateContent(ctx, genai.Text(
		"Write the narration for an animated explanation of: "+prompt,
	))
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return "", &AdapterError{Service: geminiService, StatusCode: gerr.Code, Message: gerr.Message, Err: err}
		}
		return "", transportError(geminiService, err)
	}

	script := strings.TrimSpace(responseText(resp))
	if script == "" {
		return "", malformed(geminiService, "no text in candidates")
	}
	return script, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		// The first candidate with content is the answer.
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String()
}
