package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/petems/loudkeep/internal/audio"
	"github.com/petems/loudkeep/internal/config"
	"github.com/petems/loudkeep/internal/session"
	"github.com/petems/loudkeep/internal/storage"
)

var (
	ErrAlreadyRecording = errors.New("a recording session is already running")
	ErrRecording        = errors.New("cannot change while recording")
)

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetError()
}

type Config struct {
	Host          audio.Host
	Config        *config.Config
	Logger        zerolog.Logger
	Metrics       session.Metrics // optional
	Uploads       session.Uploads // optional
	StatusUpdater StatusUpdater   // Optional - can be nil
}

// App is the control surface shared by every presentation layer. At most one
// session runs at a time.
type App struct {
	catalog *audio.Catalog
	engine  *audio.Engine
	cfg     *config.Config
	log     zerolog.Logger
	metrics session.Metrics
	uploads session.Uploads

	state *session.State
	bc    *session.Broadcaster

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// smu guards the fields the session goroutine touches on exit.
	smu     sync.Mutex
	status  StatusUpdater
	lastErr error
}

func New(cfg Config) *App {
	return &App{
		catalog: audio.NewCatalog(cfg.Host, cfg.Logger),
		engine:  audio.NewEngine(cfg.Host, cfg.Logger),
		cfg:     cfg.Config,
		log:     cfg.Logger,
		status:  cfg.StatusUpdater,
		metrics: cfg.Metrics,
		uploads: cfg.Uploads,
		state:   session.NewState(cfg.Config.Threshold()),
		bc:      session.NewBroadcaster(),
	}
}

// SetStatusUpdater attaches a status sink after construction, for UIs that
// need the App to exist first.
func (a *App) SetStatusUpdater(s StatusUpdater) {
	a.smu.Lock()
	defer a.smu.Unlock()
	a.status = s
}

func (a *App) statusUpdater() StatusUpdater {
	a.smu.Lock()
	defer a.smu.Unlock()
	return a.status
}

// Start launches a session on the configured device and format.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Recording() {
		return ErrAlreadyRecording
	}
	if a.done != nil {
		// previous session may still be releasing the device
		<-a.done
	}
	if !a.state.TryStart() {
		return ErrAlreadyRecording
	}

	dev := a.catalog.Select(a.cfg.Audio.Device)
	f := a.cfg.Format()
	if err := f.Validate(); err != nil {
		a.state.SetRecording(false)
		return err
	}

	ctrl := session.NewController(session.ControllerConfig{
		Capture:        a.engine,
		State:          a.state,
		Broadcaster:    a.bc,
		Metrics:        a.metrics,
		Logger:         a.log,
		UpdateInterval: a.cfg.UpdateInterval(),
	})
	store := storage.New(a.cfg.Storage.OutputDirectory, a.cfg.Storage.FilenameFormat, a.log)
	loop := session.NewLoop(session.LoopConfig{
		Controller: ctrl,
		Store:      store,
		Uploads:    a.uploads,
		Pause:      a.cfg.Pause(),
		Logger:     a.log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done

	a.smu.Lock()
	a.lastErr = nil
	a.smu.Unlock()
	if s := a.statusUpdater(); s != nil {
		s.SetRecording()
	}
	a.log.Info().Str("dir", store.Dir()).Msg("Kept segments go to output directory")

	go func() {
		defer close(done)
		defer cancel()

		err := loop.Run(ctx, dev, f)

		a.smu.Lock()
		a.lastErr = err
		status := a.status
		a.smu.Unlock()

		if status == nil {
			return
		}
		if err != nil {
			status.SetError()
		} else {
			status.SetIdle()
		}
	}()

	return nil
}

// Stop ends the session and waits until the capture device is released.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	a.state.SetRecording(false)
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session to stop: %w", ctx.Err())
	}
}

// Toggle starts a stopped session or stops a running one.
func (a *App) Toggle(ctx context.Context) error {
	if a.IsRecording() {
		return a.Stop(ctx)
	}
	return a.Start()
}

func (a *App) IsRecording() bool {
	return a.state.Recording()
}

// Err returns the error that ended the last session, if any.
func (a *App) Err() error {
	a.smu.Lock()
	defer a.smu.Unlock()
	return a.lastErr
}

// ApplyFormat probes f on the selected device and stores it. The chunk size
// is derived from the rate and the channel count is capped by the device. If
// the probe fails the baseline format is stored instead and replaced is true.
func (a *App) ApplyFormat(f audio.Format) (applied audio.Format, replaced bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Recording() {
		return audio.Format{}, false, ErrRecording
	}

	dev := a.catalog.Select(a.cfg.Audio.Device)
	f.ChunkFrames = audio.ChunkFramesForRate(f.SampleRate)
	f.Channels = dev.MaxChannels(f.Channels)
	if err := f.Validate(); err != nil {
		return audio.Format{}, false, err
	}

	if err := a.catalog.Probe(dev, f); err != nil {
		a.log.Warn().Err(err).Str("format", f.String()).Str("device", dev.Name).Msg("Format not supported, using baseline")
		f = f.Baseline()
		replaced = true
	}

	a.cfg.SetFormat(f)
	a.saveLocked()
	a.log.Info().Str("format", f.String()).Msg("Audio format applied")
	return f, replaced, nil
}

// SetThreshold clamps db into the configured bounds. It applies to the next
// decision, even mid-session.
func (a *App) SetThreshold(db float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.cfg.Threshold()
	t.DB = t.Clamp(db)
	a.state.SetThreshold(t)
	a.cfg.SetThreshold(t)
	a.saveLocked()
	a.bc.Publish(a.state.Snapshot())
	return t.DB
}

func (a *App) SetSegmentSeconds(seconds float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Recording() {
		return ErrRecording
	}

	f := a.cfg.Format()
	f.SegmentSeconds = seconds
	if err := f.Validate(); err != nil {
		return err
	}
	a.cfg.SetFormat(f)
	a.saveLocked()
	return nil
}

// SetDevice selects an input by index; unknown indices select the system
// default.
func (a *App) SetDevice(index int) (audio.DeviceDescriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Recording() {
		return audio.DeviceDescriptor{}, ErrRecording
	}

	dev := a.catalog.Select(index)
	a.cfg.Audio.Device = dev.Index
	a.saveLocked()
	a.log.Info().Str("device", dev.DisplayName()).Msg("Input device selected")
	return dev, nil
}

// RefreshDevices re-enumerates inputs. It may run during a session.
func (a *App) RefreshDevices() []audio.DeviceDescriptor {
	return a.catalog.Refresh()
}

func (a *App) Devices() []audio.DeviceDescriptor {
	return a.catalog.Devices()
}

// Device returns the currently selected input.
func (a *App) Device() audio.DeviceDescriptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.catalog.Select(a.cfg.Audio.Device)
}

func (a *App) Format() audio.Format {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Format()
}

func (a *App) Threshold() audio.Threshold {
	return a.state.Threshold()
}

func (a *App) Snapshot() session.Snapshot {
	return a.state.Snapshot()
}

// Subscribe returns a channel of snapshots and a func to unsubscribe.
func (a *App) Subscribe(buffer int) (<-chan session.Snapshot, func()) {
	return a.bc.Subscribe(buffer)
}

// Shutdown stops any running session and saves the config.
func (a *App) Shutdown(ctx context.Context) error {
	stopErr := a.Stop(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.cfg.Save(); err != nil {
		return errors.Join(stopErr, fmt.Errorf("save config: %w", err))
	}
	return stopErr
}

func (a *App) saveLocked() {
	if err := a.cfg.Save(); err != nil {
		a.log.Error().Err(err).Msg("Failed to save config")
	}
}
