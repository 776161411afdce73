package adapters

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"visualizer-backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg writes a shell script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func artifactServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/video.mp4":
			w.Write([]byte("video"))
		case "/audio.mp3":
			w.Write([]byte("audio"))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestCombine(t *testing.T) {
	srv := artifactServer()
	defer srv.Close()

	artifactDir := t.TempDir()
	local, err := storage.NewLocalStorage(artifactDir, "http://cdn.test")
	require.NoError(t, err)

	c := &Combiner{
		// Concatenate both inputs into the last argument.
		FFmpegPath: fakeFFmpeg(t, `for a; do last="$a"; done; cat "$3" "$5" > "$last"`),
		Storage:    local,
	}
	url, err := c.Combine(context.Background(), CombineInput{
		VideoURL: srv.URL + "/video.mp4",
		AudioURL: srv.URL + "/audio.mp3",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://cdn.test/artifacts/"), url)

	data, err := os.ReadFile(filepath.Join(artifactDir, strings.TrimPrefix(url, "http://cdn.test/artifacts/")))
	require.NoError(t, err)
	assert.Equal(t, "videoaudio", string(data))
}

func TestCombineFFmpegFailure(t *testing.T) {
	srv := artifactServer()
	defer srv.Close()

	local, err := storage.NewLocalStorage(t.TempDir(), "http://cdn.test")
	require.NoError(t, err)

	c := &Combiner{
		FFmpegPath: fakeFFmpeg(t, "echo 'frame=0' >&2; echo 'video.mp4: Invalid data found when processing input' >&2; exit 1"),
		Storage:    local,
	}
	_, err = c.Combine(context.Background(), CombineInput{
		VideoURL: srv.URL + "/video.mp4",
		AudioURL: srv.URL + "/audio.mp3",
	})
	var aerr *AdapterError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "ffmpeg: video.mp4: Invalid data found when processing input", aerr.Message)
}

func TestCombineMissingArtifact(t *testing.T) {
	srv := artifactServer()
	defer srv.Close()

	c := &Combiner{FFmpegPath: fakeFFmpeg(t, "exit 0")}
	_, err := c.Combine(context.Background(), CombineInput{
		VideoURL: srv.URL + "/gone.mp4",
		AudioURL: srv.URL + "/audio.mp3",
	})
	var aerr *AdapterError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, http.StatusNotFound, aerr.StatusCode)
}

func TestCombineValidatesInput(t *testing.T) {
	c := &Combiner{}
	_, err := c.Combine(context.Background(), CombineInput{VideoURL: "http://x/v.mp4"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
