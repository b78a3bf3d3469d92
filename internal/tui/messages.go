package tui

import (
	"github.com/petems/loudkeep/internal/audio"
	"github.com/petems/loudkeep/internal/session"
)

// SnapshotMsg carries a state update from the session.
type SnapshotMsg session.Snapshot

// resultMsg reports the outcome of a control action.
type resultMsg struct {
	text string
	err  error
}

// devicesMsg carries a refreshed device list.
type devicesMsg []audio.DeviceDescriptor

// closedMsg means the snapshot subscription ended.
type closedMsg struct{}
