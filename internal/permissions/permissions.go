package permissions

import "errors"

var (
	// ErrMicrophoneNotGranted means the system prompt has been shown and is pending.
	ErrMicrophoneNotGranted = errors.New("microphone permission not granted yet")
	// ErrMicrophoneDenied means access was refused in System Settings.
	ErrMicrophoneDenied = errors.New("microphone permission denied: System Settings → Privacy & Security → Microphone")
)
