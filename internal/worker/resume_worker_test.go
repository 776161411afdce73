package worker

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type fakeResumer struct {
	calls atomic.Int32
	fn    func() (int, error)
}

func (f *fakeResumer) ResumeStalled(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	f.calls.Add(1)
	return f.fn()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestRunOnce(t *testing.T) {
	w := NewResumeWorker(&fakeResumer{fn: func() (int, error) { return 3, nil }}, time.Minute, time.Minute, 10, quietLogger())
	assert.Equal(t, 3, w.RunOnce(context.Background()))
}

func TestRunOnceSurvivesErrorsAndPanics(t *testing.T) {
	w := NewResumeWorker(&fakeResumer{fn: func() (int, error) { return 0, errors.New("db down") }}, 0, 0, 0, quietLogger())
	assert.Zero(t, w.RunOnce(context.Background()))

	w = NewResumeWorker(&fakeResumer{fn: func() (int, error) { panic("boom") }}, 0, 0, 0, quietLogger())
	assert.NotPanics(t, func() { w.RunOnce(context.Background()) })
}

func TestStartTicksUntilCancelled(t *testing.T) {
	r := &fakeResumer{fn: func() (int, error) { return 0, nil }}
	w := NewResumeWorker(r, 5*time.Millisecond, time.Minute, 10, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
