package recorder

import (
	"sync"

	"imx296-capture/encoderproc"
	"imx296-capture/models"
)

// session is the live, mutable record of one pass through the recording
// state machine. It is replaced, never reused, across recordings.
type session struct {
	id               string
	requestedDuration *float64 // nil = open-ended
	outputBase       string    // without extension
	prebufferPath    string
	prebufferFrames  int

	startedAtWall    float64 // clock.Now() at Idle->Arming
	startedAt        float64 // first frame's capture time, set at Arming->Recording
	firstFrameNumber uint64
	lastFrameNumber  uint64
	framesRecorded   uint64

	encoder *encoderproc.Process

	// encoderReady closes once encoder is either set (successful spawn) or
	// arming was aborted, so a StopRecording/finishSession racing in during
	// Arming never dereferences a nil encoder.
	encoderReady chan struct{}

	// finishOnce guards against both the spontaneous-encoder-exit watcher
	// and an explicit StopRecording call finishing the same session twice.
	// Do blocks concurrent callers until the single execution has written
	// stats, so reading stats right after Do returns needs no extra lock.
	finishOnce sync.Once
	stats      models.RecordingStats
}
