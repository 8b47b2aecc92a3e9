// Package trigger defines the Command protocol shared by every trigger
// source (programmatic API calls, the keyboard, and the remote
// push-notification subscriber) and implements the Keyboard and Remote
// sources themselves.
package trigger

import (
	"imx296-capture/models"
)

// Kind enumerates the commands a trigger source can produce.
type Kind int

const (
	StartRecording Kind = iota
	StopRecording
	Status
	GetStats
)

func (k Kind) String() string {
	switch k {
	case StartRecording:
		return "start_recording"
	case StopRecording:
		return "stop_recording"
	case GetStats:
		return "get_stats"
	default:
		return "status"
	}
}

// Command is the normalized instruction every trigger source emits,
// regardless of whether it arrived as a terminal line or an ntfy message.
type Command struct {
	Kind     Kind
	Duration *float64            // seconds; nil = open-ended
	Filename string              // optional explicit output filename
	Source   models.TriggerState // attribution carried onto sync samples
}
