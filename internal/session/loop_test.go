package session

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/loudkeep/internal/audio"
	"github.com/petems/loudkeep/internal/storage"
)

func newTestLoop(host *synthHost, state *State, store Persister, uploads Uploads, metrics Metrics) *Loop {
	ctrl := NewController(ControllerConfig{
		Capture: audio.NewEngine(host, zerolog.Nop()),
		State:   state,
		Metrics: metrics,
		Logger:  zerolog.Nop(),
	})
	return NewLoop(LoopConfig{Controller: ctrl, Store: store, Uploads: uploads, Logger: zerolog.Nop()})
}

func TestLoopSilentSessionDiscardsEverything(t *testing.T) {
	dir := t.TempDir()
	state := recordingState()
	host := &synthHost{}
	host.onRead = func(n int) {
		if n == 12 {
			state.SetRecording(false)
		}
	}
	metrics := newCountingMetrics()

	err := newTestLoop(host, state, storage.New(dir, "", zerolog.Nop()), nil, metrics).Run(context.Background(), audio.SystemDefaultDevice(), testFormat())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if state.Saved() != 0 || state.Discarded() != 3 {
		t.Fatalf("expected 0 saved / 3 discarded, got %d / %d", state.Saved(), state.Discarded())
	}
	if metrics.decided[Discarded] != 3 {
		t.Errorf("expected 3 discard events, got %d", metrics.decided[Discarded])
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("no files should be written for silence, found %d", len(entries))
	}
	if state.Recording() {
		t.Error("recording flag must be cleared when the loop exits")
	}
	if !host.allClosed() {
		t.Error("every stream must be released")
	}
}

func TestLoopKeepsLoudSegment(t *testing.T) {
	dir := t.TempDir()
	state := recordingState()
	host := &synthHost{amplitude: 16384}
	host.onRead = func(n int) {
		if n == 5 {
			state.SetRecording(false)
		}
	}
	uploads := &recordingUploads{}

	err := newTestLoop(host, state, storage.New(dir, "", zerolog.Nop()), uploads, nil).Run(context.Background(), audio.SystemDefaultDevice(), testFormat())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if state.Saved() != 1 || state.Discarded() != 0 {
		t.Fatalf("expected 1 saved / 0 discarded, got %d / %d", state.Saved(), state.Discarded())
	}

	path := state.LastFile()
	h, err := storage.ReadHeader(path)
	if err != nil {
		t.Fatalf("saved file unreadable: %v", err)
	}
	if h.Channels != 1 || h.BitDepth != 16 || h.SampleRate != 8000 {
		t.Errorf("unexpected header %+v", h)
	}
	if h.PayloadBytes != 5*800*2 {
		t.Errorf("expected %d payload bytes, got %d", 5*800*2, h.PayloadBytes)
	}
	if len(uploads.paths) != 1 || uploads.paths[0] != path {
		t.Errorf("expected the saved file to be queued for upload, got %v", uploads.paths)
	}
}

func TestLoopOpenFailureAbortsSession(t *testing.T) {
	state := recordingState()
	host := &synthHost{failOpen: true}

	err := newTestLoop(host, state, storage.New(t.TempDir(), "", zerolog.Nop()), nil, nil).Run(context.Background(), audio.SystemDefaultDevice(), testFormat())
	if !errors.Is(err, ErrNoFrames) {
		t.Fatalf("expected ErrNoFrames, got %v", err)
	}

	snap := state.Snapshot()
	if snap.Recording {
		t.Error("recording flag must be cleared")
	}
	if snap.Error == "" {
		t.Error("the failure must be visible in the snapshot")
	}
}

func TestLoopPersistFailureReportsLoss(t *testing.T) {
	state := recordingState()
	host := &synthHost{amplitude: 16384}
	store := &failingStore{}
	metrics := newCountingMetrics()

	err := newTestLoop(host, state, store, nil, metrics).Run(context.Background(), audio.SystemDefaultDevice(), testFormat())
	if !errors.Is(err, storage.ErrPersistFailed) {
		t.Fatalf("expected ErrPersistFailed, got %v", err)
	}
	if store.calls != 1 || state.Saved() != 0 {
		t.Fatalf("expected one failed save and no saved count, got %d calls / %d saved", store.calls, state.Saved())
	}
	if metrics.persist != 1 {
		t.Errorf("expected persist failure to be counted, got %d", metrics.persist)
	}
	snap := state.Snapshot()
	if !strings.Contains(snap.Error, "disk full") || !strings.Contains(snap.Error, "disk still full") {
		t.Errorf("both error details must be reported, got %q", snap.Error)
	}
}

func TestLoopStopDuringPause(t *testing.T) {
	state := recordingState()
	host := &synthHost{}
	ctrl := NewController(ControllerConfig{Capture: audio.NewEngine(host, zerolog.Nop()), State: state, Logger: zerolog.Nop()})
	loop := NewLoop(LoopConfig{Controller: ctrl, Store: storage.New(t.TempDir(), "", zerolog.Nop()), Pause: time.Hour, Logger: zerolog.Nop()})

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background(), audio.SystemDefaultDevice(), testFormat()) }()

	deadline := time.After(5 * time.Second)
	for state.Discarded() == 0 {
		select {
		case <-deadline:
			t.Fatal("first segment never finished")
		case <-time.After(5 * time.Millisecond):
		}
	}
	state.SetRecording(false)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop during the pause")
	}
	if host.readCount() != 5 {
		t.Errorf("no second segment should start, got %d reads", host.readCount())
	}
}

func TestLoopCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state := recordingState()
	host := &synthHost{}

	if err := newTestLoop(host, state, storage.New(t.TempDir(), "", zerolog.Nop()), nil, nil).Run(ctx, audio.SystemDefaultDevice(), testFormat()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(host.opened) != 0 {
		t.Errorf("nothing should be opened for a cancelled session, got %d opens", len(host.opened))
	}
}
