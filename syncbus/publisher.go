package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"imx296-capture/clock"
	"imx296-capture/corelog"
	"imx296-capture/models"
)

// Publisher runs its own dequeue worker and pushes per-frame samples to an
// Outlet at wire rate. Its input queue is bounded; under back-pressure it
// drops the newest sample and increments a counter rather than blocking the
// ingest hot path (§4.4).
type Publisher struct {
	clk   *clock.Clock
	info  StreamInfo
	queue chan models.FrameEvent

	outletMu sync.Mutex
	outlet   Outlet
	degraded bool

	triggerMu   sync.Mutex
	triggerTime float64
	triggerType models.TriggerState

	dropped     uint64
	samplesSent uint64

	rateMu       sync.Mutex
	rateSent     uint64
	rateAt       time.Time
	samplesPerSec float64

	lastSampleMu sync.Mutex
	lastSample   [3]float64

	done chan struct{}
}

// NewPublisher creates a Publisher bound to outlet, which may be degraded
// to a no-op later if Open fails.
func NewPublisher(outlet Outlet, info StreamInfo, clk *clock.Clock, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Publisher{
		clk:    clk,
		info:   info,
		queue:  make(chan models.FrameEvent, queueSize),
		outlet: outlet,
		done:   make(chan struct{}),
	}
}

// Start opens the outlet (degrading to no-op with a one-time warning on
// failure, per §4.4 "Startup") and launches the dequeue worker.
func (p *Publisher) Start(ctx context.Context) {
	if err := p.outlet.Open(); err != nil {
		corelog.L().Warn("syncbus: outlet unavailable (%v), publisher degraded to no-op", err)
		p.outletMu.Lock()
		p.outlet = noopOutlet{}
		p.degraded = true
		p.outletMu.Unlock()
	}

	go p.run(ctx)
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			p.drain(200 * time.Millisecond)
			return
		case e := <-p.queue:
			p.push(e)
		}
	}
}

func (p *Publisher) push(e models.FrameEvent) {
	p.triggerMu.Lock()
	tTime, tType := p.triggerTime, p.triggerType
	p.triggerMu.Unlock()

	frame := Frame{
		Stream:    p.info.Name,
		SourceID:  p.info.SourceID,
		Timestamp: p.clk.Now(), // the outlet's own synchronized clock, not capture_time
		Channels:  [3]float64{float64(e.FrameNumber), tTime, tType.Channel()},
	}

	p.outletMu.Lock()
	outlet := p.outlet
	p.outletMu.Unlock()

	if err := outlet.Push(frame); err != nil {
		corelog.L().WarnEvery("syncbus.push", time.Second, "syncbus: outlet push error: %v", err)
		return
	}
	atomic.AddUint64(&p.samplesSent, 1)

	p.lastSampleMu.Lock()
	p.lastSample = frame.Channels
	p.lastSampleMu.Unlock()
}

// LastSample returns the channel values of the most recently pushed sample.
func (p *Publisher) LastSample() [3]float64 {
	p.lastSampleMu.Lock()
	defer p.lastSampleMu.Unlock()
	return p.lastSample
}

// Publish is the non-blocking enqueue called from the ingest hot path.
func (p *Publisher) Publish(e models.FrameEvent) {
	select {
	case p.queue <- e:
	default:
		atomic.AddUint64(&p.dropped, 1)
		corelog.L().WarnEvery("syncbus.queue_full", time.Second, "syncbus: queue full, dropping sample for frame %d", e.FrameNumber)
	}
}

// SetTrigger marks the trigger state carried on subsequent outbound
// samples. The caller (trigger arbiter) is responsible for reverting it
// after the spec's T_mark window.
func (p *Publisher) SetTrigger(t models.TriggerState, triggerTime float64) {
	p.triggerMu.Lock()
	p.triggerType = t
	p.triggerTime = triggerTime
	p.triggerMu.Unlock()
}

// Stats reports connection state and running counters for the status
// snapshot.
func (p *Publisher) Stats() (connected bool, samplesSent, dropped uint64) {
	p.outletMu.Lock()
	connected = !p.degraded
	p.outletMu.Unlock()
	return connected, atomic.LoadUint64(&p.samplesSent), atomic.LoadUint64(&p.dropped)
}

// SamplesPerSecond reports the send rate observed between this call and the
// previous one, the same delta-between-polls technique status.SysCollector
// uses for its CPU gauge. The first call always reports 0.
func (p *Publisher) SamplesPerSecond() float64 {
	p.rateMu.Lock()
	defer p.rateMu.Unlock()

	now := time.Now()
	sent := atomic.LoadUint64(&p.samplesSent)

	if p.rateAt.IsZero() {
		p.rateAt, p.rateSent = now, sent
		return 0
	}

	elapsed := now.Sub(p.rateAt).Seconds()
	if elapsed > 0 {
		p.samplesPerSec = float64(sent-p.rateSent) / elapsed
	}
	p.rateAt, p.rateSent = now, sent
	return p.samplesPerSec
}

// LastTrigger reports the trigger annotation currently carried on outbound
// samples, for the status snapshot's trigger_status block.
func (p *Publisher) LastTrigger() (models.TriggerState, float64) {
	p.triggerMu.Lock()
	defer p.triggerMu.Unlock()
	return p.triggerType, p.triggerTime
}

// drain gives the worker up to budget to flush any samples already queued
// before Shutdown releases the outlet (§4.4 "Shutdown", T_drain = 2s at the
// caller level; this is the worker-local slice of that budget).
func (p *Publisher) drain(budget time.Duration) {
	deadline := time.After(budget)
	for {
		select {
		case e := <-p.queue:
			p.push(e)
		case <-deadline:
			return
		default:
			if len(p.queue) == 0 {
				return
			}
		}
	}
}

// Shutdown drains for up to 2s then releases the outlet.
func (p *Publisher) Shutdown() {
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
	}
	p.outletMu.Lock()
	p.outlet.Close()
	p.outletMu.Unlock()
}
