package syncbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imx296-capture/clock"
	"imx296-capture/models"
)

type fakeOutlet struct {
	mu      sync.Mutex
	opened  bool
	openErr error
	frames  []Frame
}

func (f *fakeOutlet) Open() error {
	f.opened = true
	return f.openErr
}

func (f *fakeOutlet) Push(fr Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeOutlet) Close() {}

func (f *fakeOutlet) snapshot() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

func TestPublishPushesSampleWithTriggerState(t *testing.T) {
	outlet := &fakeOutlet{}
	pub := NewPublisher(outlet, StreamInfo{Name: "IMX296Camera", Type: "VideoEvents", ChannelCount: 3}, clock.New(), 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub.Start(ctx)

	pub.SetTrigger(models.TriggerRemote, 1.5)
	pub.Publish(models.FrameEvent{FrameNumber: 42, CaptureTime: 0.42})

	require.Eventually(t, func() bool { return len(outlet.snapshot()) == 1 }, time.Second, 10*time.Millisecond)

	frames := outlet.snapshot()
	assert.Equal(t, 42.0, frames[0].Channels[0])
	assert.Equal(t, 1.5, frames[0].Channels[1])
	assert.Equal(t, 2.0, frames[0].Channels[2]) // Remote = 2
}

func TestPublishDropsNewestWhenQueueFull(t *testing.T) {
	outlet := &fakeOutlet{}
	pub := NewPublisher(outlet, StreamInfo{Name: "IMX296Camera"}, clock.New(), 1)
	// Don't Start the worker, so the queue never drains.
	pub.Publish(models.FrameEvent{FrameNumber: 1})
	pub.Publish(models.FrameEvent{FrameNumber: 2})
	pub.Publish(models.FrameEvent{FrameNumber: 3})

	_, _, dropped := pub.Stats()
	assert.Equal(t, uint64(2), dropped)
}

func TestSamplesPerSecondFirstCallReportsZero(t *testing.T) {
	pub := NewPublisher(&fakeOutlet{}, StreamInfo{Name: "IMX296Camera"}, clock.New(), 16)
	assert.Equal(t, 0.0, pub.SamplesPerSecond())
}

func TestSamplesPerSecondTracksSendRate(t *testing.T) {
	outlet := &fakeOutlet{}
	pub := NewPublisher(outlet, StreamInfo{Name: "IMX296Camera"}, clock.New(), 256)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub.Start(ctx)

	pub.SamplesPerSecond() // establish the baseline poll

	for i := 0; i < 50; i++ {
		pub.Publish(models.FrameEvent{FrameNumber: uint64(i)})
	}
	require.Eventually(t, func() bool { return len(outlet.snapshot()) == 50 }, time.Second, 10*time.Millisecond)

	rate := pub.SamplesPerSecond()
	assert.Greater(t, rate, 0.0)
}

func TestDegradesToNoopWhenOutletFailsToOpen(t *testing.T) {
	outlet := &fakeOutlet{openErr: errors.New("bind failed")}
	pub := NewPublisher(outlet, StreamInfo{Name: "IMX296Camera"}, clock.New(), 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub.Start(ctx)

	connected, _, _ := pub.Stats()
	assert.False(t, connected)

	// Publishing after degrade must not panic or block.
	pub.Publish(models.FrameEvent{FrameNumber: 1})
	time.Sleep(50 * time.Millisecond)
}
