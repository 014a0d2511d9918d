// Package sync implements the presentation clock (spec §4.7): the
// subsystem that maps producer timestamps onto wall-clock presentation
// times under a configurable end-to-end latency target, detects stalls, and
// rate-adjusts to catch up without ever presenting frames out of order.
//
// State is protected by a plain sync.Mutex, in the style of the teacher's
// (zsiec/prism) distribution.MoQSession and mpisat-qumo's announce_table.go
// — a small mutex-guarded struct plus time.Now()-driven decisions, not a
// dedicated actor goroutine, since every method here is non-blocking except
// Wait.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/moqsub/player/internal/observability"
)

// ProducerMicro is a producer timestamp in microseconds, distinct from wall
// clock time (spec §9: "use distinct nominal types ... to prevent
// accidental arithmetic across domains").
type ProducerMicro int64

// Status is the clock's playback status.
type Status int

const (
	StatusPlay Status = iota
	StatusWait
)

func (s Status) String() string {
	if s == StatusPlay {
		return "play"
	}
	return "wait"
}

const (
	// catchUpThresholdNum/Den expresses the "ahead of schedule by more
	// than L/2" threshold from §4.7 step 3.
	catchUpThresholdNum = 1
	catchUpThresholdDen = 2

	// maxRate is the catch-up rate cap (§4.7: "e.g., 1.1x").
	maxRate = 1.1

	// catchUpWindow bounds how long the rate cap applies before
	// settling back to 1.0, per §4.7's "for a bounded window".
	catchUpWindow = 2 * time.Second

	// staleGrace extends the stall-detection deadline beyond latency,
	// per §4.7's "L + grace".
	staleGrace = 500 * time.Millisecond
)

// Clock is the Sync clock of spec §4.7. The zero value is not usable; use
// New.
type Clock struct {
	mu sync.Mutex

	latency time.Duration
	rec     *observability.Recorder

	hasRef       bool
	refProducer  ProducerMicro
	refWall      time.Time
	rate         float64
	catchUpUntil time.Time

	lastUpdate    ProducerMicro
	hasLastUpdate bool
	lastUpdateAt  time.Time

	stallRecorded bool // guards Stall() from firing on every statusLocked call during one stall episode

	waiters []chan struct{} // closed/broadcast on any state change affecting presentation
}

// New constructs a Clock targeting the given end-to-end latency.
func New(latency time.Duration) *Clock {
	return &Clock{
		latency: latency,
		rate:    1.0,
	}
}

// SetRecorder attaches a metrics recorder; nil detaches it. Stall episodes
// and playback-rate changes are reported through it (spec §6's syncStatus/
// rate-adaptation surface).
func (c *Clock) SetRecorder(rec *observability.Recorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec = rec
}

// Update is called when a new frame is received (not decoded), advancing
// the clock's notion of producer progress (§4.7 "Update").
func (c *Clock) Update(now time.Time, ts ProducerMicro) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasStalled := c.statusLocked(now) == StatusWait

	if !c.hasLastUpdate || ts > c.lastUpdate {
		c.lastUpdate = ts
	}
	c.hasLastUpdate = true
	c.lastUpdateAt = now

	switch {
	case !c.hasRef:
		c.refProducer = ts - ProducerMicro(c.latency.Microseconds())
		c.refWall = now
		c.setRateLocked(1.0)
		c.stallRecorded = false
	case wasStalled:
		// Re-seed rather than snap: accept a one-time discontinuity
		// instead of a permanent lag (§4.7 "Stall detection").
		c.refProducer = ts - ProducerMicro(c.latency.Microseconds())
		c.refWall = now
		c.setRateLocked(1.0)
		c.stallRecorded = false
	default:
		// present(ts) converges to now+latency in steady state (§4.7's
		// seed sets present(ts0) = now0+L, and monotone presentation
		// preserves that offset), so "ahead of schedule" is gap
		// exceeding latency by more than the threshold. A producer that
		// is behind schedule (gap below latency) gets no special
		// handling here: the clock enters wait only through the
		// silence-based stall check in statusLocked.
		gap := c.presentLocked(ts).Sub(now)
		threshold := c.latency * catchUpThresholdNum / catchUpThresholdDen
		if gap-c.latency > threshold {
			// Producer running ahead of schedule: nudge the
			// reference wall-clock earlier by raising rate,
			// never moving refProducer backwards (monotone
			// presentation, §4.7 "Ordering guarantees").
			c.setRateLocked(maxRate)
			c.catchUpUntil = now.Add(catchUpWindow)
		} else if now.After(c.catchUpUntil) {
			c.setRateLocked(1.0)
		}
	}

	c.notifyLocked()
}

// setRateLocked updates the playback rate and reports it to the recorder.
// Caller holds mu.
func (c *Clock) setRateLocked(rate float64) {
	c.rate = rate
	if c.rec != nil {
		c.rec.SetSyncRate(rate)
	}
}

// statusLocked reports the clock's status as of now: wait iff no ref yet or
// the producer has gone silent for longer than latency+grace (§4.7 "Stall
// detection"), play otherwise. There is no separately stored status field:
// "wait" is purely a function of elapsed time since the last update, so it
// cannot go stale between calls. Caller holds mu.
func (c *Clock) statusLocked(now time.Time) Status {
	if !c.hasRef || !c.hasLastUpdate {
		return StatusWait
	}
	if now.Sub(c.lastUpdateAt) > c.latency+staleGrace {
		if c.rec != nil && !c.stallRecorded {
			c.rec.Stall()
			c.stallRecorded = true
		}
		return StatusWait
	}
	return StatusPlay
}

// presentLocked computes present(ts) per §4.7. Caller holds mu.
func (c *Clock) presentLocked(ts ProducerMicro) time.Time {
	if !c.hasRef {
		return time.Time{}
	}
	deltaProducer := time.Duration(int64(ts-c.refProducer)) * time.Microsecond
	deltaWall := time.Duration(float64(deltaProducer) / c.rate)
	return c.refWall.Add(deltaWall)
}

// SetLatency changes the target latency. The next Update re-seeds ref to
// the new target (§4.7 "Configuration change"); already-waiting callers are
// woken so they can recheck.
func (c *Clock) SetLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency = d
	c.hasRef = false
	c.notifyLocked()
}

// Wait blocks until now >= present(ts) and status == play, or ctx is
// cancelled. Spurious wake-ups are permitted by the contract; callers that
// need an authoritative staleness recheck (per §9's Design Notes) must do
// so themselves after Wait returns.
func (c *Clock) Wait(ctx context.Context, ts ProducerMicro) error {
	for {
		c.mu.Lock()
		if c.statusLocked(time.Now()) == StatusPlay {
			ready := c.presentLocked(ts)
			if !time.Now().Before(ready) {
				c.mu.Unlock()
				return nil
			}
			wake := make(chan struct{})
			c.waiters = append(c.waiters, wake)
			c.mu.Unlock()

			timer := time.NewTimer(time.Until(ready))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		wake := make(chan struct{})
		c.waiters = append(c.waiters, wake)
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

// notifyLocked wakes all current waiters. Caller holds mu.
func (c *Clock) notifyLocked() {
	for _, w := range c.waiters {
		close(w)
	}
	c.waiters = nil
}

// StatusSnapshot reports the clock's current play/wait status.
func (c *Clock) StatusSnapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked(time.Now())
}
