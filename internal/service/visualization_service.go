// internal/service/visualization_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"visualizer-backend/internal/adapters"
	"visualizer-backend/internal/models"
	"visualizer-backend/internal/pipeline"
	"visualizer-backend/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Sentinel errors; callers use errors.Is() instead of string matching
var (
	ErrNotFound      = errors.New("visualization not found")
	ErrStateConflict = errors.New("visualization is not in the stage's status")
)

type ScriptWriter interface {
	WriteScript(ctx context.Context, prompt string) (string, error)
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, in adapters.SpeechInput) (adapters.Speech, error)
}

type CodeGenerator interface {
	GenerateCode(ctx context.Context, in adapters.CodeInput) (string, error)
}

type VideoRenderer interface {
	Render(ctx context.Context, code string) (string, error)
}

type MediaCombiner interface {
	Combine(ctx context.Context, in adapters.CombineInput) (string, error)
}

// Adapters groups one adapter per stage.
type Adapters struct {
	Script  ScriptWriter
	Speech  SpeechSynthesizer
	Code    CodeGenerator
	Render  VideoRenderer
	Combine MediaCombiner
}

// Timeouts bounds each stage's adapter call. LeaseGrace is added on top when
// claiming a stage so a slow but live handler keeps its lease.
type Timeouts struct {
	Script     time.Duration
	Audio      time.Duration
	Code       time.Duration
	Render     time.Duration
	Combine    time.Duration
	LeaseGrace time.Duration
}

func (t Timeouts) For(stage models.Stage) time.Duration {
	var d time.Duration
	switch stage {
	case models.StageScript:
		d = t.Script
	case models.StageAudio:
		d = t.Audio
	case models.StageCode:
		d = t.Code
	case models.StageRender:
		d = t.Render
	case models.StageCombine:
		d = t.Combine
	}
	if d <= 0 {
		d = 60 * time.Second
	}
	return d
}

func (t Timeouts) lease(stage models.Stage) time.Duration {
	return t.For(stage) + t.LeaseGrace
}

// cutoffs gives every in-progress status the time before which its stage's
// lease has expired.
func (t Timeouts) cutoffs(now time.Time) store.LeaseCutoffs {
	c := make(store.LeaseCutoffs, len(models.Stages))
	for _, stage := range models.Stages {
		c[stage.Status()] = now.Add(-t.lease(stage))
	}
	return c
}

// Dispatcher queues the next stage. *pipeline.Dispatcher satisfies it.
type Dispatcher interface {
	Submit(job pipeline.Job) error
}

// VisualizationService is the pipeline orchestrator: it creates records,
// runs stages against their adapters and is the only writer of status.
type VisualizationService struct {
	Store      store.Store
	Adapters   Adapters
	Timeouts   Timeouts
	Dispatcher Dispatcher
	Log        *logrus.Logger

	// DefaultAudioDuration paces the animation when the audio stage did not
	// record a duration.
	DefaultAudioDuration float64

	now func() time.Time
}

func NewVisualizationService(st store.Store, a Adapters, t Timeouts, defaultAudioDuration float64, log *logrus.Logger) *VisualizationService {
	return &VisualizationService{
		Store:                st,
		Adapters:             a,
		Timeouts:             t,
		Log:                  log,
		DefaultAudioDuration: defaultAudioDuration,
		now:                  time.Now,
	}
}

// CreateRequest is a validated creation request.
type CreateRequest struct {
	ConversationID string
	MessageID      string
	Prompt         string
	Voice          string
}

// Create stores a pending record, moves it to generating_script and queues
// the script stage. It returns without waiting for any stage.
func (s *VisualizationService) Create(ctx context.Context, userID string, req CreateRequest) (*models.Visualization, error) {
	v := &models.Visualization{
		UserID:         userID,
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		Prompt:         req.Prompt,
		Voice:          req.Voice,
		Status:         models.StatusPending,
	}
	if err := s.Store.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("create visualization: %w", err)
	}

	if err := s.Store.Transition(ctx, v.ID, models.StatusPending, models.StatusGeneratingScript, models.Artifacts{}); err != nil {
		// The record stays pending; the resume worker picks it up.
		s.entry(v.ID, models.StageScript).WithError(err).Warn("could not start pipeline")
		return v, nil
	}
	v.Status = models.StatusGeneratingScript
	v.Version++

	s.entry(v.ID, models.StageScript).Info("visualization created")
	s.enqueue(v.ID, models.StageScript)
	return v, nil
}

// Get returns the record if it belongs to userID. Records of other users are
// reported as not found.
func (s *VisualizationService) Get(ctx context.Context, userID string, id uuid.UUID) (*models.Visualization, error) {
	v, err := s.Store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if v.UserID != userID {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *VisualizationService) List(ctx context.Context, userID, conversationID string, limit int) ([]*models.Visualization, error) {
	return s.Store.List(ctx, store.ListQuery{UserID: userID, ConversationID: conversationID, Limit: limit})
}

// StageOverrides are inputs supplied by a manual stage trigger. They are only
// used when the record has no value for the field.
type StageOverrides struct {
	Prompt        string
	Script        string
	Voice         string
	AudioDuration float64
}

// StageResult is the record after a stage call. Skipped is set when the call
// was a no-op because the record was not in the stage's status or another
// handler held the stage; Reason then wraps ErrStateConflict.
type StageResult struct {
	Record  *models.Visualization
	Skipped bool
	Reason  error
}

// TriggerStage runs stage for a record owned by userID.
func (s *VisualizationService) TriggerStage(ctx context.Context, userID string, id uuid.UUID, stage models.Stage, o StageOverrides) (StageResult, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return StageResult{}, err
	}
	// A client hanging up does not cancel the stage it started.
	return s.RunStage(context.WithoutCancel(ctx), id, stage, o)
}

// HandleJob is the dispatcher entry point.
func (s *VisualizationService) HandleJob(ctx context.Context, job pipeline.Job) {
	if _, err := s.RunStage(ctx, job.ID, job.Stage, StageOverrides{}); err != nil {
		s.entry(job.ID, job.Stage).WithError(err).Error("stage run failed")
	}
}

// RunStage executes one stage: guard on status, claim, call the adapter,
// then either advance and queue the next stage or fail the record.
// Errors are returned for store problems and for ctx being cancelled;
// adapter failures end up in the record.
func (s *VisualizationService) RunStage(ctx context.Context, id uuid.UUID, stage models.Stage, o StageOverrides) (StageResult, error) {
	marker := stage.Status()
	if marker == "" {
		return StageResult{}, fmt.Errorf("unknown stage %q", stage)
	}
	log := s.entry(id, stage)

	v, err := s.Store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return StageResult{}, ErrNotFound
	}
	if err != nil {
		return StageResult{}, err
	}
	if v.Status != marker {
		log.WithField("status", v.Status).Debug("stage trigger ignored")
		return StageResult{
			Record:  v,
			Skipped: true,
			Reason:  fmt.Errorf("%w: record is %s, stage %s runs in %s", ErrStateConflict, v.Status, stage, marker),
		}, nil
	}

	err = s.Store.Claim(ctx, id, marker, s.clock().UTC().Add(-s.Timeouts.lease(stage)))
	if errors.Is(err, store.ErrConflict) {
		log.Debug("stage already claimed")
		return s.skipped(ctx, id, "stage already claimed")
	}
	if err != nil {
		return StageResult{}, err
	}

	started := s.clock()
	artifacts, runErr := s.execute(ctx, v, stage, o)
	if runErr != nil && ctx.Err() != nil {
		// Shutdown, not an upstream failure. The lease expires and the resume
		// worker runs the stage again.
		log.WithError(runErr).Warn("stage interrupted")
		return StageResult{Record: v}, ctx.Err()
	}
	if runErr != nil {
		log.WithError(runErr).WithField("elapsed", s.clock().Sub(started).String()).Warn("stage failed")
		err = s.Store.Fail(ctx, id, marker, runErr.Error())
	} else {
		next, _ := marker.Next()
		err = s.Store.Transition(ctx, id, marker, next, artifacts)
		if err == nil {
			log.WithFields(logrus.Fields{
				"status":  next,
				"elapsed": s.clock().Sub(started).String(),
			}).Info("stage completed")
			if nextStage, ok := models.StageFor(next); ok {
				s.enqueue(id, nextStage)
			}
		}
	}
	if errors.Is(err, store.ErrConflict) {
		// Our lease expired and another handler finished the stage first.
		log.Warn("stage result discarded, record moved on")
		return s.skipped(ctx, id, "record moved on while the stage ran")
	}
	if err != nil {
		return StageResult{}, err
	}

	v, err = s.Store.Get(ctx, id)
	if err != nil {
		return StageResult{}, err
	}
	return StageResult{Record: v}, nil
}

// execute gathers the stage's inputs and calls its adapter with the stage
// timeout.
func (s *VisualizationService) execute(ctx context.Context, v *models.Visualization, stage models.Stage, o StageOverrides) (models.Artifacts, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeouts.For(stage))
	defer cancel()

	prompt := firstNonEmpty(v.Prompt, o.Prompt)
	script := firstNonEmpty(v.Script, o.Script)

	switch stage {
	case models.StageScript:
		if prompt == "" {
			return models.Artifacts{}, errors.New("missing prompt")
		}
		text, err := s.Adapters.Script.WriteScript(ctx, prompt)
		if err != nil {
			return models.Artifacts{}, err
		}
		return models.Artifacts{Script: text}, nil

	case models.StageAudio:
		if script == "" {
			return models.Artifacts{}, errors.New("missing script from the script stage")
		}
		speech, err := s.Adapters.Speech.Synthesize(ctx, adapters.SpeechInput{
			Script: script,
			Voice:  firstNonEmpty(v.Voice, o.Voice),
		})
		if err != nil {
			return models.Artifacts{}, err
		}
		return models.Artifacts{AudioURL: speech.AudioURL, AudioDurationSeconds: speech.DurationSeconds}, nil

	case models.StageCode:
		if prompt == "" || script == "" {
			return models.Artifacts{}, errors.New("missing prompt or script for code generation")
		}
		duration := v.AudioDurationSeconds
		if duration <= 0 {
			duration = o.AudioDuration
		}
		if duration <= 0 {
			duration = s.DefaultAudioDuration
		}
		raw, err := s.Adapters.Code.GenerateCode(ctx, adapters.CodeInput{
			Prompt:               prompt,
			Script:               script,
			AudioDurationSeconds: duration,
		})
		if err != nil {
			return models.Artifacts{}, err
		}
		code := StripCodeFence(raw)
		if code == "" {
			return models.Artifacts{}, errors.New("code generation returned no code")
		}
		return models.Artifacts{Code: code}, nil

	case models.StageRender:
		if v.Code == "" {
			return models.Artifacts{}, errors.New("missing code from the code stage")
		}
		url, err := s.Adapters.Render.Render(ctx, v.Code)
		if err != nil {
			return models.Artifacts{}, err
		}
		return models.Artifacts{VideoURL: url}, nil

	case models.StageCombine:
		if v.VideoURL == "" || v.AudioURL == "" {
			return models.Artifacts{}, errors.New("missing video or audio to combine")
		}
		url, err := s.Adapters.Combine.Combine(ctx, adapters.CombineInput{VideoURL: v.VideoURL, AudioURL: v.AudioURL})
		if err != nil {
			return models.Artifacts{}, err
		}
		return models.Artifacts{CombinedVideoURL: url}, nil
	}
	return models.Artifacts{}, fmt.Errorf("unknown stage %q", stage)
}

// ResumeStalled re-queues records that stopped moving: pending records that
// never started, and in-progress records whose stage was never picked up or
// whose lease ran out. It returns how many stages were queued.
func (s *VisualizationService) ResumeStalled(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	now := s.clock().UTC()
	records, err := s.Store.Stalled(ctx, now.Add(-staleAfter), s.Timeouts.cutoffs(now), limit)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, v := range records {
		status := v.Status
		if status == models.StatusPending {
			err := s.Store.Transition(ctx, v.ID, models.StatusPending, models.StatusGeneratingScript, models.Artifacts{})
			if err != nil && !errors.Is(err, store.ErrConflict) {
				return queued, err
			}
			if err != nil {
				continue
			}
			status = models.StatusGeneratingScript
		}

		stage, ok := models.StageFor(status)
		if !ok {
			continue
		}
		if v.ClaimedAt != nil && v.ClaimedAt.After(now.Add(-s.Timeouts.lease(stage))) {
			continue
		}
		if s.enqueue(v.ID, stage) {
			queued++
		}
	}
	return queued, nil
}

func (s *VisualizationService) enqueue(id uuid.UUID, stage models.Stage) bool {
	if s.Dispatcher == nil {
		return false
	}
	if err := s.Dispatcher.Submit(pipeline.Job{ID: id, Stage: stage}); err != nil {
		s.entry(id, stage).WithError(err).Warn("stage not queued, leaving it for the resume worker")
		return false
	}
	return true
}

func (s *VisualizationService) skipped(ctx context.Context, id uuid.UUID, why string) (StageResult, error) {
	v, err := s.Store.Get(ctx, id)
	if err != nil {
		return StageResult{}, err
	}
	return StageResult{Record: v, Skipped: true, Reason: fmt.Errorf("%w: %s", ErrStateConflict, why)}, nil
}

func (s *VisualizationService) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *VisualizationService) entry(id uuid.UUID, stage models.Stage) *logrus.Entry {
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return log.WithFields(logrus.Fields{
		"visualization_id": id.String(),
		"stage":            string(stage),
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
