package models

import "fmt"

// Status is the lifecycle position of a visualization record.
type Status string

const (
	StatusPending          Status = "pending"
	StatusGeneratingScript Status = "generating_script"
	StatusGeneratingAudio  Status = "generating_audio"
	StatusGeneratingManim  Status = "generating_manim"
	StatusRenderingVideo   Status = "rendering_video"
	StatusCombiningMedia   Status = "combining_media"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// forward lists the non-failure statuses in pipeline order.
var forward = []Status{
	StatusPending,
	StatusGeneratingScript,
	StatusGeneratingAudio,
	StatusGeneratingManim,
	StatusRenderingVideo,
	StatusCombiningMedia,
	StatusCompleted,
}

// ParseStatus rejects anything that is not a known status value.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusGeneratingScript, StatusGeneratingAudio, StatusGeneratingManim,
		StatusRenderingVideo, StatusCombiningMedia, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank is the position of s in the forward order. Failed ranks after
// everything so that it never looks like a regression.
func (s Status) Rank() int {
	if s == StatusFailed {
		return len(forward)
	}
	for i, f := range forward {
		if f == s {
			return i
		}
	}
	return -1
}

// Next returns the status that follows s on the success path.
func (s Status) Next() (Status, bool) {
	switch s {
	case StatusPending:
		return StatusGeneratingScript, true
	case StatusGeneratingScript:
		return StatusGeneratingAudio, true
	case StatusGeneratingAudio:
		return StatusGeneratingManim, true
	case StatusGeneratingManim:
		return StatusRenderingVideo, true
	case StatusRenderingVideo:
		return StatusCombiningMedia, true
	case StatusCombiningMedia:
		return StatusCompleted, true
	case StatusCompleted, StatusFailed:
		return "", false
	}
	return "", false
}

// CanTransitionTo allows exactly one step forward, or a jump to failed from
// any non-terminal status.
func (s Status) CanTransitionTo(to Status) bool {
	if s.IsTerminal() || !s.Valid() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	next, ok := s.Next()
	return ok && next == to
}

// Stage is one discrete step of the generation pipeline.
type Stage string

const (
	StageScript  Stage = "script"
	StageAudio   Stage = "audio"
	StageCode    Stage = "code"
	StageRender  Stage = "render"
	StageCombine Stage = "combine"
)

// Stages in execution order.
var Stages = []Stage{StageScript, StageAudio, StageCode, StageRender, StageCombine}

func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if st.Status() == "" {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return st, nil
}

// Status is the in-progress marker a record carries while the stage runs.
// A stage handler only acts on records in exactly this status.
func (st Stage) Status() Status {
	switch st {
	case StageScript:
		return StatusGeneratingScript
	case StageAudio:
		return StatusGeneratingAudio
	case StageCode:
		return StatusGeneratingManim
	case StageRender:
		return StatusRenderingVideo
	case StageCombine:
		return StatusCombiningMedia
	}
	return ""
}

// StageFor maps an in-progress status back to the stage that owns it.
func StageFor(s Status) (Stage, bool) {
	switch s {
	case StatusGeneratingScript:
		return StageScript, true
	case StatusGeneratingAudio:
		return StageAudio, true
	case StatusGeneratingManim:
		return StageCode, true
	case StatusRenderingVideo:
		return StageRender, true
	case StatusCombiningMedia:
		return StageCombine, true
	case StatusPending, StatusCompleted, StatusFailed:
		return "", false
	}
	return "", false
}
