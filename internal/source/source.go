// Package source implements the rendition selector and decoder host of
// spec §4.6: capability filtering, deterministic selection (internal/catalog),
// switch-without-glitch pipeline management, and Sync-gated frame emission.
//
// Grounded on the teacher's (zsiec/prism) pipeline.Broadcaster interface
// seam — accepting a narrow interface for the external collaborator so the
// host is testable with stubs — and its atomic-counter stats style
// (internal/pipeline/pipeline.go). The external platform decoder of spec §1
// is represented here as the Decoder interface; this package owns no
// concrete decoder, only the pending/active lifecycle around it.
package source

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moqsub/player/internal/catalog"
	"github.com/moqsub/player/internal/container"
	"github.com/moqsub/player/internal/container/cmaf"
	"github.com/moqsub/player/internal/container/legacy"
	"github.com/moqsub/player/internal/errs"
	"github.com/moqsub/player/internal/observability"
	"github.com/moqsub/player/internal/reorder"
	"github.com/moqsub/player/internal/session"
	syncclock "github.com/moqsub/player/internal/sync"
)

// Kind distinguishes the media type a Source drives.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

// DecoderConfig is what a Source asks the platform decoder to support
// (spec §4.6 "Capability filter"). Description is the rendition's
// hex-decoded catalog description: Supported omits it for CMAF renditions
// and includes it for legacy ones, while openPipeline passes it to the
// Factory for every container kind.
type DecoderConfig struct {
	Codec              string
	OptimizeForLatency bool
	Description        []byte
}

// DecodedFrame is a fully decoded picture/audio buffer, timestamped in
// producer microseconds.
type DecodedFrame struct {
	Timestamp int64
	Data      []byte
}

// Decoder stands in for the external platform decoder (spec §1, §6). The
// platform delivers decoded frames asynchronously; Frames/Errors expose
// that as channels rather than callbacks, per this module's
// channel-and-context concurrency idiom.
type Decoder interface {
	IsConfigSupported(cfg DecoderConfig) bool
	Decode(ctx context.Context, sample container.Sample) error
	Frames() <-chan DecodedFrame
	Errors() <-chan error
	Close() error
}

// Factory constructs a fresh Decoder for a rendition's config.
type Factory func(cfg DecoderConfig) (Decoder, error)

// PublishedFrame is what a Source hands to the renderer/audio-output
// collaborator once it clears the Sync gate.
type PublishedFrame struct {
	Rendition string
	Timestamp int64
	Data      []byte
}

// Stats mirrors spec §6's per-media-type stats surface.
type Stats struct {
	FrameCount    uint64
	BytesReceived uint64
	Timestamp     int64
}

// Source drives rendition selection and decode for one media type.
type Source struct {
	kind    Kind
	factory Factory
	clock   *syncclock.Clock
	rec     *observability.Recorder
	logger  *slog.Logger

	// targetMu guards target, read by the Run loop and written by
	// SetTarget from whatever goroutine owns the player-facing surface
	// (spec §6). notify wakes Run's selection loop on a change.
	targetMu sync.Mutex
	target   catalog.Target
	notify   chan struct{}

	frameCount    atomic.Uint64
	bytesReceived atomic.Uint64
	lastTimestamp atomic.Int64

	publish chan PublishedFrame

	// pipeMu guards the active/pending pipeline handles (spec §4.6
	// "switch-without-glitch"): pending is the in-flight candidate not yet
	// promoted; active is the one currently allowed to publish frames.
	pipeMu  sync.Mutex
	active  *pipeline
	pending *pipeline

	// emitMu guards the presentation-state fields below, which are written
	// only from whichever pipeline goroutine last promoted itself but read
	// from whatever goroutine calls BufferStatus/ActiveRendition (e.g. the
	// player's stats surface, spec §6).
	emitMu          sync.Mutex
	activeRendition string
	lastShown       int64
	hasShown        bool
}

// New constructs a Source. clock is shared across all media types on a
// Player so audio and video share one presentation reference (spec §5
// "ordering guarantees... the Sync clock provides the only cross-track
// alignment").
func New(kind Kind, factory Factory, clock *syncclock.Clock, rec *observability.Recorder, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		kind:    kind,
		factory: factory,
		clock:   clock,
		rec:     rec,
		logger:  logger,
		publish: make(chan PublishedFrame, 4),
		notify:  make(chan struct{}, 1),
	}
}

// SetTarget updates the rendition preference (spec §4.6 "Selection") and
// wakes Run's selection loop to re-evaluate against it.
func (s *Source) SetTarget(t catalog.Target) {
	s.targetMu.Lock()
	s.target = t
	s.targetMu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Source) targetSnapshot() catalog.Target {
	s.targetMu.Lock()
	defer s.targetMu.Unlock()
	return s.target
}

// Supported filters a catalog's renditions to those the platform decoder
// accepts. For CMAF, only {codec, optimizeForLatency} is offered, since the
// description is the init segment consumed by the container decoder; for
// legacy, description is included up front.
func Supported(checker func(DecoderConfig) bool, video map[string]catalog.VideoConfig) []string {
	var out []string
	for name, cfg := range video {
		dc := DecoderConfig{Codec: cfg.Codec, OptimizeForLatency: cfg.OptimizeLatency()}
		if cfg.Container.Kind == catalog.ContainerLegacy {
			desc, err := cfg.DescriptionBytes()
			if err == nil {
				dc.Description = desc
			}
		}
		if checker(dc) {
			out = append(out, name)
		}
	}
	return out
}

// pipeline is one decoder instance bound to one subscribed track.
type pipeline struct {
	rendition string
	config    catalog.VideoConfig
	track     *session.Track
	decoder   Decoder
	ctx       context.Context
	cancel    context.CancelFunc
	reorder   *reorder.Buffer
}

// Run drives selection and switch-without-glitch decode for this Source
// against the given broadcast, until ctx is cancelled. video is the
// catalog's rendition map (video or, for an audio Source, an equivalent
// map built by the caller from AudioConfig); supportedFn recomputes the
// platform-decodable subset of whatever rendition map is current.
// catalogUpdates delivers wholesale rendition-map replacements as the
// catalog changes (spec §4.3); a nil channel means it never changes.
//
// A target change (SetTarget) or a catalog replacement re-runs selection
// (spec §4.3's MUST, §4.6 "Selection"). If the newly selected rendition
// differs from the one currently pursued, Run opens a second "pending"
// pipeline on the new track while the existing one keeps publishing; the
// first frame the pending pipeline gets past the Sync gate promotes it to
// active and closes the pipeline it replaced (spec §4.6 "Switch-without-
// glitch").
func (s *Source) Run(ctx context.Context, broadcast *session.Broadcast, supportedFn func(map[string]catalog.VideoConfig) []string, video map[string]catalog.VideoConfig, priority int, catalogUpdates <-chan map[string]catalog.VideoConfig) error {
	if s.rec != nil {
		// Every Run starts in the empty-buffer state (spec §4.6
		// "bufferStatus"): nothing has been published yet.
		s.rec.BufferEmpty()
	}

	supported := supportedFn(video)
	desired := catalog.Select(supported, video, s.targetSnapshot())
	if desired == "" {
		return errs.New(errs.DecoderUnsupported, "no supported rendition")
	}

	first, err := s.openPipeline(ctx, broadcast, desired, video[desired], priority)
	if err != nil {
		return err
	}
	s.pipeMu.Lock()
	s.pending = first
	s.pipeMu.Unlock()
	go s.runPipeline(first)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.notify:
		case next, ok := <-catalogUpdates:
			if !ok {
				catalogUpdates = nil
				continue
			}
			video = next
			supported = supportedFn(video)
		}

		name := catalog.Select(supported, video, s.targetSnapshot())
		if name == "" || name == desired {
			continue
		}

		pend, err := s.openPipeline(ctx, broadcast, name, video[name], priority)
		if err != nil {
			s.logger.Warn("source: failed to open pending pipeline", "rendition", name, "error", err)
			continue
		}
		s.pipeMu.Lock()
		if s.pending != nil {
			// Supersede an in-flight candidate that never promoted.
			s.pending.cancel()
		}
		s.pending = pend
		s.pipeMu.Unlock()
		desired = name
		go s.runPipeline(pend)
	}
}

func (s *Source) openPipeline(ctx context.Context, broadcast *session.Broadcast, name string, cfg catalog.VideoConfig, priority int) (*pipeline, error) {
	track, err := broadcast.Subscribe(ctx, name, priority)
	if err != nil {
		return nil, err
	}

	desc, _ := cfg.DescriptionBytes()
	dec, err := s.factory(DecoderConfig{Codec: cfg.Codec, OptimizeForLatency: cfg.OptimizeLatency(), Description: desc})
	if err != nil {
		return nil, errs.Wrap(errs.DecoderUnsupported, "construct decoder", name, -1, err)
	}

	pctx, cancel := context.WithCancel(ctx)
	p := &pipeline{rendition: name, config: cfg, track: track, decoder: dec, ctx: pctx, cancel: cancel}
	if cfg.Container.Kind == catalog.ContainerLegacy {
		p.reorder = reorder.New(defaultReorderLatency)
	}
	go s.readLoop(pctx, p)
	return p, nil
}

const defaultReorderLatency = 200 * time.Millisecond

// runPipeline pumps decoded frames from p through the emission procedure of
// spec §4.6 until p's own context is cancelled (by the outer Run ctx
// ending, or by Run superseding/closing this pipeline) or the decoder's
// channels close.
func (s *Source) runPipeline(p *pipeline) {
	defer p.cancel()
	defer p.decoder.Close()

	for {
		select {
		case <-p.ctx.Done():
			return
		case err, ok := <-p.decoder.Errors():
			if !ok {
				return
			}
			s.logger.Error("source: decoder error", "rendition", p.rendition, "error", err)
			return
		case frame, ok := <-p.decoder.Frames():
			if !ok {
				return
			}
			s.emit(p.ctx, p, frame)
		}
	}
}

// emit implements the five-step frame-emission procedure of spec §4.6.
func (s *Source) emit(ctx context.Context, p *pipeline, frame DecodedFrame) {
	if s.isStale(frame.Timestamp) {
		return // step 1: stale, drop
	}

	latched := false
	if !s.hasShownSnapshot() {
		// step 2: latch a placeholder so the UI is never blank.
		s.publishFrame(p, frame)
		latched = true
	}

	if err := s.clock.Wait(ctx, syncclock.ProducerMicro(frame.Timestamp)); err != nil {
		return // step 3: cancelled, drop
	}

	if s.isStale(frame.Timestamp) {
		return // step 4 recheck: authoritative per §9 Design Notes
	}

	if latched {
		// Already published as the no-blank-UI placeholder in step 2;
		// the gate cleared for this same frame, nothing new to show.
		return
	}

	s.publishFrame(p, frame)
}

// promote makes p the active pipeline if it is not already, returning the
// pipeline it replaced (nil if none, or if p was already active). The
// replaced pipeline's own context is cancelled so its runPipeline goroutine
// exits and closes its decoder exactly once, via its own deferred cleanup.
func (s *Source) promote(p *pipeline) *pipeline {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	if s.active == p {
		return nil
	}
	old := s.active
	s.active = p
	if s.pending == p {
		s.pending = nil
	}
	return old
}

func (s *Source) isStale(ts int64) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	return s.hasShown && ts < s.lastShown
}

func (s *Source) hasShownSnapshot() bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	return s.hasShown
}

// publishFrame promotes p if it is not yet the active pipeline (closing
// whichever pipeline it replaces, per spec §4.6 step 4's "publish the
// frame, closing any prior"), then publishes frame as that pipeline's
// output.
func (s *Source) publishFrame(p *pipeline, frame DecodedFrame) {
	if old := s.promote(p); old != nil {
		old.cancel()
	}
	rendition := p.rendition

	s.emitMu.Lock()
	s.lastShown = frame.Timestamp
	s.hasShown = true
	s.activeRendition = rendition
	s.emitMu.Unlock()

	s.frameCount.Add(1)
	s.bytesReceived.Add(uint64(len(frame.Data)))
	s.lastTimestamp.Store(frame.Timestamp)

	if s.rec != nil {
		s.rec.FrameReceived()
		s.rec.BytesReceived(len(frame.Data))
	}

	select {
	case s.publish <- PublishedFrame{Rendition: rendition, Timestamp: frame.Timestamp, Data: frame.Data}:
	default:
		// Drop the previous unread placeholder rather than block; the
		// renderer only ever wants the latest frame.
		select {
		case <-s.publish:
		default:
		}
		s.publish <- PublishedFrame{Rendition: rendition, Timestamp: frame.Timestamp, Data: frame.Data}
	}
}

// readLoop pulls groups/frames off p.track, decodes container samples, and
// feeds them to p.decoder, applying the reorder buffer for legacy
// containers (spec §4.4, §4.5). CMAF bypasses reordering (§4.5, §9).
func (s *Source) readLoop(ctx context.Context, p *pipeline) {
	group, frame, err := p.track.NextGroup(ctx)
	for err == nil {
		s.decodeGroupStart(ctx, p, group, frame)
		group, frame, err = p.track.NextGroup(ctx)
	}
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("source: group lost", "rendition", p.rendition, "error", err)
		if s.rec != nil {
			s.rec.GroupLost()
		}
	}
}

func (s *Source) decodeGroupStart(ctx context.Context, p *pipeline, group *session.Group, first *session.Frame) {
	var payload []byte
	payload = append(payload, first.Data...)
	for {
		f, err := group.ReadFrame(ctx)
		if err != nil {
			break
		}
		payload = append(payload, f.Data...)
	}
	decodeStart := time.Now()
	var samples []container.Sample
	var decodeErr error
	switch p.config.Container.Kind {
	case catalog.ContainerCMAF:
		desc, _ := p.config.DescriptionBytes()
		samples, decodeErr = cmaf.Decode(desc, payload)
	default:
		samples, decodeErr = legacy.Decode(payload)
	}
	if s.rec != nil {
		if obs := s.rec.LatencyObs("container_decode"); obs != nil {
			obs.Observe(time.Since(decodeStart).Seconds())
		}
	}
	if decodeErr != nil {
		s.logger.Warn("source: malformed container, dropping group", "rendition", p.rendition, "group", group.Number, "error", decodeErr)
		return
	}

	if p.reorder != nil {
		p.reorder.OpenGroup(group.Number)
		now := time.Now()
		for _, sm := range samples {
			p.reorder.Push(sm, group.Number, now)
		}
		// The group is now fully drained, whether it ended cleanly or was
		// lost (§4.2 "drop policy"): either way no further frames will
		// arrive for it, so it stops counting toward the quorum check
		// (§4.5) — as if it had produced a frame at +infinity.
		p.reorder.CloseGroup(group.Number)
		for _, sm := range p.reorder.Ready(time.Now()) {
			_ = p.decoder.Decode(ctx, sm)
		}
		return
	}

	for _, sm := range samples {
		_ = p.decoder.Decode(ctx, sm)
	}
}

// Published returns the channel of frames that have cleared the Sync gate.
func (s *Source) Published() <-chan PublishedFrame {
	return s.publish
}

// BufferStatus reports "empty" or "filled" per spec §4.6.
func (s *Source) BufferStatus() string {
	if !s.hasShownSnapshot() {
		return "empty"
	}
	return "filled"
}

// ActiveRendition returns the name of the rendition currently publishing
// frames.
func (s *Source) ActiveRendition() string {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	return s.activeRendition
}

// StatsSnapshot returns the current counters.
func (s *Source) StatsSnapshot() Stats {
	return Stats{
		FrameCount:    s.frameCount.Load(),
		BytesReceived: s.bytesReceived.Load(),
		Timestamp:     s.lastTimestamp.Load(),
	}
}
