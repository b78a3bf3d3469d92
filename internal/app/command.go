package app

import (
	"context"
	"fmt"
	"time"

	"github.com/petems/loudkeep/internal/audio"
)

// Command is a control request from a remote presentation layer.
type Command struct {
	Command        string   `json:"command"`
	SampleRate     int      `json:"sample_rate,omitempty"`
	BitDepth       int      `json:"bit_depth,omitempty"`
	Channels       int      `json:"channels,omitempty"`
	SegmentSeconds float64  `json:"segment_seconds,omitempty"`
	ThresholdDB    *float64 `json:"threshold_db,omitempty"`
	Device         *int     `json:"device,omitempty"`
}

// Reply is the outcome of a command.
type Reply struct {
	Command string                   `json:"command"`
	OK      bool                     `json:"ok"`
	Error   string                   `json:"error,omitempty"`
	Message string                   `json:"message,omitempty"`
	Devices []audio.DeviceDescriptor `json:"devices,omitempty"`
	Format  string                   `json:"format,omitempty"`
}

const stopTimeout = 5 * time.Second

// Dispatch runs one command against the app.
func (a *App) Dispatch(ctx context.Context, cmd Command) Reply {
	reply := Reply{Command: cmd.Command}

	err := func() error {
		switch cmd.Command {
		case "start":
			return a.Start()

		case "stop":
			ctx, cancel := context.WithTimeout(ctx, stopTimeout)
			defer cancel()
			return a.Stop(ctx)

		case "refresh-devices":
			reply.Devices = a.RefreshDevices()
			return nil

		case "set-device":
			if cmd.Device == nil {
				return fmt.Errorf("device is required")
			}
			dev, err := a.SetDevice(*cmd.Device)
			reply.Message = dev.DisplayName()
			return err

		case "apply-format":
			f := a.Format()
			if cmd.SampleRate != 0 {
				f.SampleRate = cmd.SampleRate
			}
			if cmd.BitDepth != 0 {
				f.BitDepth = cmd.BitDepth
			}
			if cmd.Channels != 0 {
				f.Channels = cmd.Channels
			}
			if cmd.SegmentSeconds != 0 {
				f.SegmentSeconds = cmd.SegmentSeconds
			}
			applied, replaced, err := a.ApplyFormat(f)
			if err != nil {
				return err
			}
			reply.Format = applied.String()
			if replaced {
				reply.Message = "format not supported by the device, baseline applied"
			}
			return nil

		case "set-threshold":
			if cmd.ThresholdDB == nil {
				return fmt.Errorf("threshold_db is required")
			}
			reply.Message = fmt.Sprintf("%.1f dB", a.SetThreshold(*cmd.ThresholdDB))
			return nil

		default:
			return fmt.Errorf("unknown command %q", cmd.Command)
		}
	}()

	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	reply.OK = true
	return reply
}
