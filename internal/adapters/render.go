package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const renderService = "Render service"

// Renderer submits Manim source to the render service and returns the URL of
// the rendered, silent video.
type Renderer struct {
	BaseURL    string
	Token      string
	SceneName  string
	HTTPClient *http.Client
}

type renderRequest struct {
	Code      string `json:"code"`
	SceneName string `json:"scene_name"`
	Quality   string `json:"quality"`
}

type renderResponse struct {
	VideoURL string `json:"video_url"`
}

func (r *Renderer) Render(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", invalidInput(renderService, "code")
	}

	scene := r.SceneName
	if scene == "" {
		scene = "MathVisualization"
	}
	body, err := json.Marshal(renderRequest{Code: code, SceneName: scene, Quality: "medium"})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(r.BaseURL, "/")+"/render", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", transportError(renderService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(renderService, resp)
	}

	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", malformed(renderService, "decode body: %v", err)
	}
	if out.VideoURL == "" {
		return "", malformed(renderService, "missing video_url")
	}
	return out.VideoURL, nil
}
