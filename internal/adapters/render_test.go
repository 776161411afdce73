package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/render", r.URL.Path)
		assert.Equal(t, "Bearer render-token", r.Header.Get("Authorization"))

		var body renderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "MathVisualization", body.SceneName)
		assert.Contains(t, body.Code, "class MathVisualization")

		json.NewEncoder(w).Encode(renderResponse{VideoURL: "https://render.test/v/1.mp4"})
	}))
	defer srv.Close()

	r := &Renderer{BaseURL: srv.URL + "/", Token: "render-token"}
	url, err := r.Render(context.Background(), "class MathVisualization(Scene): pass")
	require.NoError(t, err)
	assert.Equal(t, "https://render.test/v/1.mp4", url)
}

func TestRenderMissingVideoURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	_, err := (&Renderer{BaseURL: srv.URL}).Render(context.Background(), "code")
	var aerr *AdapterError
	require.True(t, errors.As(err, &aerr))
	assert.Contains(t, aerr.Message, "missing video_url")
}

func TestRenderUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"NameError: name 'Scen' is not defined"}`))
	}))
	defer srv.Close()

	_, err := (&Renderer{BaseURL: srv.URL}).Render(context.Background(), "code")
	var aerr *AdapterError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "Render service API error: 500 NameError: name 'Scen' is not defined", aerr.Error())
}

func TestRenderRejectsEmptyCode(t *testing.T) {
	_, err := (&Renderer{BaseURL: "http://unused"}).Render(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestErrorMessageShapes(t *testing.T) {
	assert.Equal(t, "a", errorMessage([]byte(`{"detail":{"message":"a"}}`)))
	assert.Equal(t, "b", errorMessage([]byte(`{"error":{"message":"b"}}`)))
	assert.Equal(t, "c", errorMessage([]byte(`{"error":"c"}`)))
	assert.Equal(t, "d", errorMessage([]byte(`{"message":"d"}`)))
	assert.Equal(t, "upstream exploded", errorMessage([]byte("upstream exploded\n")))
}
