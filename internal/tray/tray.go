package tray

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/petems/loudkeep/internal/audio"
	"github.com/petems/loudkeep/internal/logging"
	"github.com/petems/loudkeep/internal/session"
)

// Controller is the part of the app the tray drives.
type Controller interface {
	Toggle(ctx context.Context) error
	IsRecording() bool
	SetThreshold(db float64) float64
	Threshold() audio.Threshold
	RefreshDevices() []audio.DeviceDescriptor
	Devices() []audio.DeviceDescriptor
	SetDevice(index int) (audio.DeviceDescriptor, error)
	Device() audio.DeviceDescriptor
	Subscribe(buffer int) (<-chan session.Snapshot, func())
}

// thresholdPresets are offered in the Threshold submenu.
var thresholdPresets = []float64{-50, -40, -30, -20, -10}

// writeClipboard is replaced in tests.
var writeClipboard = clipboard.WriteAll

const toggleTimeout = 5 * time.Second

type UI struct {
	app     Controller
	version string
	commit  string
	log     zerolog.Logger
	onQuit  func()

	mu       sync.Mutex
	lastFile string

	// Menu items
	mStartStop  *systray.MenuItem
	mStatus     *systray.MenuItem
	mDevices    *systray.MenuItem
	mThreshold  *systray.MenuItem
	mCopyPath   *systray.MenuItem
	deviceItems []*systray.MenuItem
	levelItems  map[float64]*systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
}

func (u *UI) SetRecording() {
	u.updateStatus("recording")
}

func (u *UI) SetError() {
	u.updateStatus("error")
}

// New creates the tray UI. onQuit runs when the user picks Quit.
func New(application Controller, version, commit string, log zerolog.Logger, onQuit func()) *UI {
	return &UI{
		app:     application,
		version: version,
		commit:  commit,
		log:     log,
		onQuit:  onQuit,
	}
}

// Run blocks on the platform event loop until Quit is chosen or ctx ends.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	// Use emoji instead of icon - microphone with initial status
	u.updateStatus("idle")
	systray.SetTooltip("Keeps only the loud parts")

	u.mStartStop = systray.AddMenuItem("Start Recording", "Record segments and keep the loud ones")
	u.mStatus = systray.AddMenuItem("Ready", "")
	u.mStatus.Disable()
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu(u.app.Devices())
	mRefresh := systray.AddMenuItem("Refresh Devices", "Look for new audio devices")

	u.mThreshold = systray.AddMenuItem(thresholdTitle(u.app.Threshold().DB), "Keep segments whose peak reaches this level")
	u.buildThresholdMenu()

	systray.AddSeparator()
	u.mCopyPath = systray.AddMenuItem("Copy Last Recording Path", "Copy the newest saved file path")
	u.mCopyPath.Disable()
	mLogs := systray.AddMenuItem("Copy Log Path", "Copy the log file location")
	mAbout := systray.AddMenuItem("About", "About loudkeep")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	snaps, unsubscribe := u.app.Subscribe(8)
	go u.watchSnapshots(snaps)
	go u.handleEvents(mRefresh, mLogs, mAbout, mQuit, unsubscribe)
}

func (u *UI) handleEvents(mRefresh, mLogs, mAbout, mQuit *systray.MenuItem, unsubscribe func()) {
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			u.toggleRecording()
		case <-mRefresh.ClickedCh:
			u.buildDeviceMenu(u.app.RefreshDevices())
		case <-u.mCopyPath.ClickedCh:
			u.copyLastPath()
		case <-mLogs.ClickedCh:
			u.copyToClipboard(logging.Path())
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			unsubscribe()
			if u.onQuit != nil {
				u.onQuit()
			}
			systray.Quit()
			return
		}
	}
}

func (u *UI) toggleRecording() {
	ctx, cancel := context.WithTimeout(context.Background(), toggleTimeout)
	defer cancel()
	if err := u.app.Toggle(ctx); err != nil {
		u.log.Error().Err(err).Msg("Failed to toggle recording")
		u.SetError()
	}
}

// watchSnapshots keeps the title and status line in step with the session.
func (u *UI) watchSnapshots(snaps <-chan session.Snapshot) {
	for s := range snaps {
		u.mStatus.SetTitle(statusLine(s))
		if s.Recording {
			u.mStartStop.SetTitle("Stop Recording")
		} else {
			u.mStartStop.SetTitle("Start Recording")
		}
		systray.SetTitle(titleFor(s))

		if s.LastFile != "" {
			u.mu.Lock()
			changed := s.LastFile != u.lastFile
			u.lastFile = s.LastFile
			u.mu.Unlock()
			if changed {
				u.mCopyPath.Enable()
			}
		}
	}
}

func (u *UI) buildDeviceMenu(devices []audio.DeviceDescriptor) {
	items := make([]*systray.MenuItem, 0, len(devices))
	for _, dev := range devices {
		items = append(items, u.mDevices.AddSubMenuItem(dev.DisplayName(), ""))
	}

	u.mu.Lock()
	for _, item := range u.deviceItems {
		item.Hide()
	}
	u.deviceItems = items
	checkOnly(items, deviceSlot(devices, u.app.Device().Index))
	u.mu.Unlock()

	for i, dev := range devices {
		go u.watchDeviceItem(dev, items[i], devices, items)
	}
}

// watchDeviceItem handles clicks on one device entry. items is the complete
// menu the entry belongs to.
func (u *UI) watchDeviceItem(dev audio.DeviceDescriptor, item *systray.MenuItem, devices []audio.DeviceDescriptor, items []*systray.MenuItem) {
	for range item.ClickedCh {
		selected, err := u.app.SetDevice(dev.Index)
		if err != nil {
			u.log.Warn().Err(err).Str("device", dev.Name).Msg("Cannot change device")
			continue
		}
		u.mu.Lock()
		checkOnly(items, deviceSlot(devices, selected.Index))
		u.mu.Unlock()
		u.log.Info().Str("device", selected.DisplayName()).Msg("Changed audio device")
	}
}

type checkable interface {
	Check()
	Uncheck()
}

// checkOnly checks items[selected] and unchecks every other item.
func checkOnly[T checkable](items []T, selected int) {
	for i, item := range items {
		if i == selected {
			item.Check()
		} else {
			item.Uncheck()
		}
	}
}

// deviceSlot returns the menu position of the device with the given index, or -1.
func deviceSlot(devices []audio.DeviceDescriptor, index int) int {
	for i, d := range devices {
		if d.Index == index {
			return i
		}
	}
	return -1
}

func (u *UI) buildThresholdMenu() {
	u.levelItems = make(map[float64]*systray.MenuItem, len(thresholdPresets))
	current := u.app.Threshold().DB

	for _, db := range thresholdPresets {
		item := u.mThreshold.AddSubMenuItem(fmt.Sprintf("%.0f dB", db), "")
		if db == current {
			item.Check()
		}
		u.levelItems[db] = item

		go func(db float64, menuItem *systray.MenuItem) {
			for range menuItem.ClickedCh {
				applied := u.app.SetThreshold(db)
				for level, itm := range u.levelItems {
					if level != applied {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.mThreshold.SetTitle(thresholdTitle(applied))
				u.log.Info().Float64("threshold_db", applied).Msg("Changed threshold")
			}
		}(db, item)
	}
}

func (u *UI) copyLastPath() {
	u.mu.Lock()
	p := u.lastFile
	u.mu.Unlock()
	if err := u.copyToClipboard(p); err != nil {
		u.log.Warn().Err(err).Msg("Nothing copied")
	}
}

func (u *UI) copyToClipboard(text string) error {
	if text == "" {
		return errors.New("nothing to copy")
	}
	if err := writeClipboard(text); err != nil {
		u.log.Error().Err(err).Msg("Clipboard write failed")
		return err
	}
	u.log.Info().Str("text", text).Msg("Copied to clipboard")
	return nil
}

func (u *UI) showAbout() {
	text := fmt.Sprintf("loudkeep %s (%s)", u.version, u.commit)
	u.mStatus.SetTitle(text)
	u.log.Info().Msg(text)
}

func (u *UI) onExit() {
	u.log.Info().Msg("Tray closed")
}

// updateStatus sets the tray title with microphone emoji and status indicator
func (u *UI) updateStatus(status string) {
	systray.SetTitle(fmt.Sprintf("🎤 %s", emojiForStatus(status)))
}

// titleFor renders the menu-bar title for a snapshot.
func titleFor(s session.Snapshot) string {
	status := "idle"
	switch {
	case s.Error != "":
		status = "error"
	case s.Recording:
		status = "recording"
	}
	return fmt.Sprintf("🎤 %s %d/%d", emojiForStatus(status), s.Saved, s.Discarded)
}

// statusLine is the disabled menu entry describing the current segment.
func statusLine(s session.Snapshot) string {
	switch {
	case s.Error != "":
		return s.Error
	case s.Recording && s.Preview != "":
		return fmt.Sprintf("%s · %s", s.Progress(), s.Preview)
	case s.LastFile != "" && !s.Recording:
		return fmt.Sprintf("%s · last: %s", s.Status, filepath.Base(s.LastFile))
	default:
		return s.Status
	}
}

func thresholdTitle(db float64) string {
	return fmt.Sprintf("Threshold: %.0f dB", db)
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - recording
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}
