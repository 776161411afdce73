package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusForwardChain(t *testing.T) {
	s := StatusPending
	var seen []Status
	for {
		seen = append(seen, s)
		next, ok := s.Next()
		if !ok {
			break
		}
		assert.Greater(t, next.Rank(), s.Rank(), "rank must increase from %s to %s", s, next)
		s = next
	}
	assert.Equal(t, forward, seen)
	assert.Equal(t, StatusCompleted, s)
}

func TestCanTransitionTo(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusGeneratingScript))
	assert.True(t, StatusGeneratingAudio.CanTransitionTo(StatusGeneratingManim))
	assert.True(t, StatusCombiningMedia.CanTransitionTo(StatusCompleted))

	assert.False(t, StatusGeneratingAudio.CanTransitionTo(StatusGeneratingScript), "no regression")
	assert.False(t, StatusGeneratingScript.CanTransitionTo(StatusGeneratingManim), "no skipping")

	for _, s := range forward[:len(forward)-1] {
		assert.True(t, s.CanTransitionTo(StatusFailed), "%s -> failed", s)
	}

	for _, terminal := range []Status{StatusCompleted, StatusFailed} {
		for _, to := range append(forward, StatusFailed) {
			assert.False(t, terminal.CanTransitionTo(to), "%s is terminal", terminal)
		}
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("rendering_video")
	require.NoError(t, err)
	assert.Equal(t, StatusRenderingVideo, st)

	_, err = ParseStatus("generating_scirpt")
	assert.Error(t, err)
}

func TestStageStatusRoundTrip(t *testing.T) {
	for _, st := range Stages {
		marker := st.Status()
		require.NotEmpty(t, marker)
		back, ok := StageFor(marker)
		require.True(t, ok)
		assert.Equal(t, st, back)
	}

	_, ok := StageFor(StatusPending)
	assert.False(t, ok)
	_, err := ParseStage("upload")
	assert.Error(t, err)
}

func TestArtifactsApplyIsWriteOnce(t *testing.T) {
	v := &Visualization{Script: "first"}
	Artifacts{Script: "second", AudioURL: "https://cdn/a.mp3"}.Apply(v)

	assert.Equal(t, "first", v.Script)
	assert.Equal(t, "https://cdn/a.mp3", v.AudioURL)
}

func TestViewNullsEmptyFields(t *testing.T) {
	v := &Visualization{Status: StatusGeneratingAudio, Script: "narration"}
	view := v.View()

	require.NotNil(t, view.Script)
	assert.Equal(t, "narration", *view.Script)
	assert.Nil(t, view.AudioURL)
	assert.Nil(t, view.VideoURL)
	assert.Nil(t, view.ErrorMessage)
}
