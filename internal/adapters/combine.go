package adapters

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"visualizer-backend/internal/storage"
)

const combineService = "Media combiner"

// CombineInput names the rendered video and the narration to lay under it.
type CombineInput struct {
	VideoURL string
	AudioURL string
}

// Combiner downloads the rendered video and narration, muxes them with ffmpeg
// and publishes the result through Storage.
type Combiner struct {
	FFmpegPath string
	TempDir    string
	Storage    storage.Storage
	HTTPClient *http.Client
}

func (c *Combiner) Combine(ctx context.Context, in CombineInput) (string, error) {
	switch {
	case in.VideoURL == "":
		return "", invalidInput(combineService, "video url")
	case in.AudioURL == "":
		return "", invalidInput(combineService, "audio url")
	}

	workDir, err := os.MkdirTemp(c.TempDir, "combine-*")
	if err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	videoFile := filepath.Join(workDir, "video.mp4")
	audioFile := filepath.Join(workDir, "audio.mp3")
	outFile := filepath.Join(workDir, "combined.mp4")

	if err := c.download(ctx, in.VideoURL, videoFile); err != nil {
		return "", err
	}
	if err := c.download(ctx, in.AudioURL, audioFile); err != nil {
		return "", err
	}

	ffmpeg := c.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, ffmpeg, "-y",
		"-i", videoFile,
		"-i", audioFile,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		outFile,
	)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", transportError(combineService, ctx.Err())
		}
		return "", &AdapterError{Service: combineService, Message: "ffmpeg: " + lastLine(stderr.String()), Err: err}
	}

	f, err := os.Open(outFile)
	if err != nil {
		return "", &AdapterError{Service: combineService, Message: "ffmpeg produced no output", Err: err}
	}
	defer f.Close()

	url, err := c.Storage.Upload(ctx, f, "combined.mp4", "video/mp4")
	if err != nil {
		return "", &AdapterError{Service: "Artifact storage", Message: err.Error(), Err: err}
	}
	return url, nil
}

func (c *Combiner) download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &AdapterError{Service: combineService, Message: "bad artifact url " + url, Err: err}
	}
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return transportError(combineService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(combineService, resp)
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return transportError(combineService, err)
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
