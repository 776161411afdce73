package models

import (
	"time"

	"github.com/google/uuid"
)

// Visualization is the persisted record tracking one generation request.
// Artifact fields are empty until the stage that produces them succeeds.
type Visualization struct {
	ID             uuid.UUID `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Prompt         string    `json:"prompt"`
	Voice          string    `json:"voice,omitempty"`

	Status Status `json:"status"`

	Script               string  `json:"script,omitempty"`
	AudioURL             string  `json:"audio_url,omitempty"`
	AudioDurationSeconds float64 `json:"audio_duration_seconds,omitempty"`
	Code                 string  `json:"code,omitempty"`
	VideoURL             string  `json:"video_url,omitempty"`
	CombinedVideoURL     string  `json:"combined_video_url,omitempty"`
	ErrorMessage         string  `json:"error_message,omitempty"`

	// ClaimedAt is the lease a stage handler holds while its adapter runs.
	ClaimedAt *time.Time `json:"-"`
	Version   int        `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Artifacts carries the fields a successful stage writes. Empty values are
// left untouched, and stores never overwrite a field that is already set.
type Artifacts struct {
	Script               string
	AudioURL             string
	AudioDurationSeconds float64
	Code                 string
	VideoURL             string
	CombinedVideoURL     string
}

// Apply copies the non-empty artifacts into fields that are still empty.
func (a Artifacts) Apply(v *Visualization) {
	if v.Script == "" {
		v.Script = a.Script
	}
	if v.AudioURL == "" {
		v.AudioURL = a.AudioURL
	}
	if v.AudioDurationSeconds == 0 {
		v.AudioDurationSeconds = a.AudioDurationSeconds
	}
	if v.Code == "" {
		v.Code = a.Code
	}
	if v.VideoURL == "" {
		v.VideoURL = a.VideoURL
	}
	if v.CombinedVideoURL == "" {
		v.CombinedVideoURL = a.CombinedVideoURL
	}
}

// VisualizationView is the client-facing projection returned by the poller.
type VisualizationView struct {
	ID               uuid.UUID `json:"id"`
	ConversationID   string    `json:"conversationId"`
	MessageID        string    `json:"messageId"`
	Status           Status    `json:"status"`
	Script           *string   `json:"script"`
	AudioURL         *string   `json:"audioUrl"`
	Code             *string   `json:"code"`
	VideoURL         *string   `json:"videoUrl"`
	CombinedVideoURL *string   `json:"combinedVideoUrl"`
	ErrorMessage     *string   `json:"errorMessage"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (v *Visualization) View() VisualizationView {
	return VisualizationView{
		ID:               v.ID,
		ConversationID:   v.ConversationID,
		MessageID:        v.MessageID,
		Status:           v.Status,
		Script:           nullable(v.Script),
		AudioURL:         nullable(v.AudioURL),
		Code:             nullable(v.Code),
		VideoURL:         nullable(v.VideoURL),
		CombinedVideoURL: nullable(v.CombinedVideoURL),
		ErrorMessage:     nullable(v.ErrorMessage),
		CreatedAt:        v.CreatedAt,
		UpdatedAt:        v.UpdatedAt,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
