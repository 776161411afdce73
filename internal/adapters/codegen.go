package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const codeService = "OpenRouter"

const codeSystemPrompt = `You are an expert Manim Community Edition developer.
Return a single complete Python file that defines exactly one Scene subclass named MathVisualization.
Use only manim and the Python standard library. Do not read files or access the network.
Pace the animation so its total run time matches the requested duration.`

// CodeInput is what the code stage knows when it asks for animation source.
type CodeInput struct {
	Prompt               string
	Script               string
	AudioDurationSeconds float64
}

// CodeGenerator asks an OpenAI-compatible chat endpoint (OpenRouter by
// default) for Manim source.
type CodeGenerator struct {
	client openai.Client
	model  string
}

func NewCodeGenerator(apiKey, baseURL, model string, timeout time.Duration) (*CodeGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("OPENROUTER_API_KEY not set")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retrying is the pipeline's decision, not the client's.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &CodeGenerator{client: openai.NewClient(opts...), model: model}, nil
}

// GenerateCode returns the raw model output; fence stripping happens in the
// orchestrator before the code is persisted.
func (g *CodeGenerator) GenerateCode(ctx context.Context, in CodeInput) (string, error) {
	switch {
	case strings.TrimSpace(in.Prompt) == "":
		return "", invalidInput(codeService, "prompt")
	case strings.TrimSpace(in.Script) == "":
		return "", invalidInput(codeService, "script")
	case in.AudioDurationSeconds <= 0:
		return "", invalidInput(codeService, "audio duration")
	}

	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(codeSystemPrompt),
			openai.UserMessage(codeUserPrompt(in)),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &AdapterError{Service: codeService, StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
		}
		return "", transportError(codeService, err)
	}

	if len(completion.Choices) == 0 {
		return "", malformed(codeService, "no choices")
	}
	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", malformed(codeService, "empty message")
	}
	return content, nil
}

func codeUserPrompt(in CodeInput) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Concept: %s\n\n", in.Prompt))
	sb.WriteString(fmt.Sprintf("Narration (the animation plays under this voice-over):\n%s\n\n", in.Script))
	sb.WriteString(fmt.Sprintf("Target duration: %.0f seconds.\n", in.AudioDurationSeconds))
	return sb.String()
}
