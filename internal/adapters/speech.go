package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"visualizer-backend/internal/storage"
)

const elevenLabsService = "Eleven Labs"

// SpeechInput is the narration to voice.
type SpeechInput struct {
	Script string
	Voice  string
}

// Speech is the published narration.
type Speech struct {
	AudioURL        string
	DurationSeconds float64
}

// SpeechSynthesizer voices narration with ElevenLabs text-to-speech and
// publishes the MP3 through Storage.
type SpeechSynthesizer struct {
	BaseURL      string
	APIKey       string
	Model        string
	DefaultVoice string
	// WordsPerMinute paces the duration estimate written with the audio.
	WordsPerMinute float64

	Storage    storage.Storage
	HTTPClient *http.Client
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (s *SpeechSynthesizer) Synthesize(ctx context.Context, in SpeechInput) (Speech, error) {
	if s.APIKey == "" {
		return Speech{}, errors.New("ELEVENLABS_API_KEY not set")
	}
	if strings.TrimSpace(in.Script) == "" {
		return Speech{}, invalidInput(elevenLabsService, "script")
	}
	voice := in.Voice
	if voice == "" {
		voice = s.DefaultVoice
	}
	if voice == "" {
		return Speech{}, invalidInput(elevenLabsService, "voice")
	}

	body, err := json.Marshal(ttsRequest{
		Text:          in.Script,
		ModelID:       s.Model,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return Speech{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(s.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Speech{}, err
	}
	req.Header.Set("xi-api-key", s.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.client().Do(req)
	if err != nil {
		return Speech{}, transportError(elevenLabsService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Speech{}, statusError(elevenLabsService, resp)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "audio/") {
		return Speech{}, malformed(elevenLabsService, "unexpected content type %q", ct)
	}

	audioURL, err := s.Storage.Upload(ctx, resp.Body, "narration.mp3", "audio/mpeg")
	if err != nil {
		return Speech{}, &AdapterError{Service: "Artifact storage", Message: err.Error(), Err: err}
	}

	return Speech{
		AudioURL:        audioURL,
		DurationSeconds: EstimateDuration(in.Script, s.WordsPerMinute),
	}, nil
}

func (s *SpeechSynthesizer) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

// EstimateDuration approximates spoken length in seconds from the word count.
func EstimateDuration(text string, wordsPerMinute float64) float64 {
	if wordsPerMinute <= 0 {
		wordsPerMinute = 150
	}
	words := len(strings.Fields(text))
	return float64(words) / wordsPerMinute * 60
}
