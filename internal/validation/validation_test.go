package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRequestValid(t *testing.T) {
	req := CreateVisualizationRequest{
		ConversationID: " conv-1 ",
		MessageID:      "msg-1",
		Prompt:         "  Explain the Pythagorean theorem ",
		Voice:          "21m00Tcm4TlvDq8AMTkR",
	}
	req.Normalize()
	require.NoError(t, Struct(&req))
	assert.Equal(t, "conv-1", req.ConversationID)
	assert.Equal(t, "Explain the Pythagorean theorem", req.Prompt)
}

func TestCreateRequestFieldErrors(t *testing.T) {
	req := CreateVisualizationRequest{
		MessageID: "msg-1",
		Prompt:    "   ",
		Voice:     "not a voice!",
	}
	req.Normalize()

	err := Struct(&req)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, map[string]string{
		"conversationId": "is required",
		"prompt":         "is required",
		"voice":          "must contain only letters, digits, '-' and '_'",
	}, verr.Fields)
	assert.Equal(t, "validation failed: conversationId: is required; prompt: is required; voice: must contain only letters, digits, '-' and '_'", verr.Error())
}

func TestPromptLengthCountsCharacters(t *testing.T) {
	ok := CreateVisualizationRequest{ConversationID: "c", MessageID: "m", Prompt: strings.Repeat("é", MaxPromptLength)}
	assert.NoError(t, Struct(&ok))

	long := ok
	long.Prompt += "x"
	var verr *ValidationError
	require.True(t, errors.As(Struct(&long), &verr))
	assert.Equal(t, "must be at most 1000 characters", verr.Fields["prompt"])
}

func TestStageRequest(t *testing.T) {
	assert.NoError(t, Struct(&StageRequest{}))
	assert.NoError(t, Struct(&StageRequest{Script: "Narration", AudioDuration: 42.5}))

	var verr *ValidationError
	require.True(t, errors.As(Struct(&StageRequest{AudioDuration: -1}), &verr))
	assert.Equal(t, "must be at least 0", verr.Fields["audioDuration"])

	require.True(t, errors.As(Struct(&StageRequest{Script: strings.Repeat("a", MaxScriptLength+1)}), &verr))
	assert.Contains(t, verr.Fields, "script")
}
