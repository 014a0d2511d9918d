// Package player is the top-level orchestration surface of spec §6: it
// wires transport.Dial -> session.Session -> a broadcast's catalog watch ->
// per-media source.Source -> the shared sync.Clock, and exposes the
// player-facing state (status, renditions, stats) behind watch channels.
//
// Grounded on the teacher's (zsiec/prism) cmd/prism/main.go errgroup-based
// lifecycle wiring, generalized from "run N servers until one fails" to
// "run N independently-failing long-lived loops until ctx ends or Close is
// called" (spec §5's single cooperative-scheduler-per-loop model).
package player

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/moqsub/player/internal/captions"
	"github.com/moqsub/player/internal/catalog"
	"github.com/moqsub/player/internal/observability"
	"github.com/moqsub/player/internal/path"
	"github.com/moqsub/player/internal/session"
	"github.com/moqsub/player/internal/source"
	syncclock "github.com/moqsub/player/internal/sync"
	"github.com/moqsub/player/internal/transport"
)

// Status is the player's overall lifecycle state (spec §6).
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusLive
	StatusStalled
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusLive:
		return "live"
	case StatusStalled:
		return "stalled"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Options configures a Player.
type Options struct {
	RelayURL     string
	Broadcast    path.Path
	Latency      time.Duration
	VideoFactory source.Factory
	AudioFactory source.Factory
	Checker      func(source.DecoderConfig) bool
	Logger       *slog.Logger
}

// Stats mirrors spec §6's combined stats surface.
type Stats struct {
	Video    source.Stats
	Audio    source.Stats
	SyncRate float64
}

// Scope owns a Player's child goroutines and runs cleanups in LIFO order on
// Close, per spec §5 ("effect scope... LIFO cleanup").
type Scope struct {
	mu       sync.Mutex
	cleanups []func()
	cancel   context.CancelFunc
}

func newScope(cancel context.CancelFunc) *Scope {
	return &Scope{cancel: cancel}
}

// Defer registers fn to run during Close, most-recently-registered first.
func (sc *Scope) Defer(fn func()) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cleanups = append(sc.cleanups, fn)
}

// Close cancels the scope's context and runs all registered cleanups.
func (sc *Scope) Close() {
	sc.cancel()
	sc.mu.Lock()
	cleanups := sc.cleanups
	sc.cleanups = nil
	sc.mu.Unlock()
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

// Player is the §6 UI-facing surface.
type Player struct {
	logger *slog.Logger
	opts   Options

	scope *Scope

	mu     sync.Mutex
	status Status
	paused bool
	muted  bool
	volume float64
	target catalog.Target

	clock    *syncclock.Clock
	video    *source.Source
	audio    *source.Source
	captions *captions.Source

	statusCh chan Status

	// sessionCounted guards IncSessions/DecSessions pairing so Close never
	// decrements a count Start never incremented (e.g. Start failing before
	// the session handshake completes).
	sessionCounted bool
}

// New constructs a Player in StatusIdle; call Start to connect.
func New(opts Options) *Player {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		logger:   logger,
		opts:     opts,
		volume:   1.0,
		statusCh: make(chan Status, 4),
	}
}

// StatusChanges returns a channel of status transitions (spec §9: "model
// signals as single-producer channels or watch-cells").
func (p *Player) StatusChanges() <-chan Status {
	return p.statusCh
}

// Start dials the relay, opens the broadcast, and runs the video/audio/
// caption pipelines until ctx ends or Close is called. It returns once all
// pipelines have started; pipeline errors surface asynchronously via
// StatusChanges transitioning to StatusError. The target end-to-end latency
// is Options.Latency.
func (p *Player) Start(ctx context.Context) error {
	scopeCtx, cancel := context.WithCancel(ctx)
	p.scope = newScope(cancel)
	p.setStatus(StatusConnecting)

	conn, err := transport.Dial(scopeCtx, p.opts.RelayURL, transport.Options{})
	if err != nil {
		p.setStatus(StatusError)
		return err
	}
	p.scope.Defer(func() { conn.Close() })

	sess, err := session.New(scopeCtx, conn, p.logger.With("component", "session"))
	if err != nil {
		p.setStatus(StatusError)
		return err
	}
	p.scope.Defer(func() { sess.Close() })

	broadcast := sess.Consume(p.opts.Broadcast)

	cat, updates, err := broadcast.Catalog(scopeCtx)
	if err != nil {
		p.setStatus(StatusError)
		return err
	}

	p.clock = syncclock.New(p.opts.Latency)
	p.clock.SetRecorder(observability.NewRecorder("sync"))
	p.video = source.New(source.KindVideo, p.opts.VideoFactory, p.clock, observability.NewRecorder("video"), p.logger.With("track", "video"))
	p.audio = source.New(source.KindAudio, p.opts.AudioFactory, p.clock, observability.NewRecorder("audio"), p.logger.With("track", "audio"))
	p.captions = captions.New(p.clock, observability.NewRecorder("captions"), p.logger.With("track", "captions"))

	// videoUpdates/audioUpdates carry catalog replacements from watchCatalog
	// to each Source's own selection loop (spec §4.3), reshaped per media
	// type since Source.Run wants a map[string]catalog.VideoConfig either
	// way (audio renditions are adapted by audioToVideoMap).
	videoUpdates := make(chan map[string]catalog.VideoConfig, 1)
	audioUpdates := make(chan map[string]catalog.VideoConfig, 1)

	g, gctx := errgroup.WithContext(scopeCtx)

	g.Go(func() error {
		return p.runVideo(gctx, broadcast, cat, videoUpdates)
	})
	g.Go(func() error {
		return p.runAudio(gctx, broadcast, cat, audioUpdates)
	})
	g.Go(func() error {
		if cat.Captions == nil {
			return nil
		}
		// A captions failure means "no captions", not a pipeline failure.
		if err := p.captions.Run(gctx, broadcast); err != nil {
			p.logger.Warn("player: captions unavailable", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		return p.watchCatalog(gctx, updates, videoUpdates, audioUpdates)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := g.Wait(); err != nil && scopeCtx.Err() == nil {
			p.logger.Error("player: pipeline failed", "error", err)
			p.setStatus(StatusError)
		}
	}()
	p.scope.Defer(func() { <-done })

	p.sessionCounted = true
	observability.IncSessions()

	p.setStatus(StatusLive)
	return nil
}

func (p *Player) runVideo(ctx context.Context, broadcast *session.Broadcast, cat *catalog.Catalog, updates <-chan map[string]catalog.VideoConfig) error {
	if len(cat.Video) == 0 {
		return nil
	}
	supportedFn := func(video map[string]catalog.VideoConfig) []string {
		return source.Supported(p.opts.Checker, video)
	}
	return p.video.Run(ctx, broadcast, supportedFn, cat.Video, session.PriorityVideo, updates)
}

func (p *Player) runAudio(ctx context.Context, broadcast *session.Broadcast, cat *catalog.Catalog, updates <-chan map[string]catalog.VideoConfig) error {
	if len(cat.Audio) == 0 {
		return nil
	}
	video := audioToVideoMap(cat.Audio)
	supportedFn := func(video map[string]catalog.VideoConfig) []string {
		names := make([]string, 0, len(video))
		for name := range video {
			names = append(names, name)
		}
		return names
	}
	return p.audio.Run(ctx, broadcast, supportedFn, video, session.PriorityAudio, updates)
}

// audioToVideoMap adapts a catalog's audio renditions to the
// map[string]catalog.VideoConfig shape source.Source's selection and
// capability-filter code expects, carrying over only the fields that
// apply to both media types (codec, container).
func audioToVideoMap(audio map[string]catalog.AudioConfig) map[string]catalog.VideoConfig {
	video := make(map[string]catalog.VideoConfig, len(audio))
	for name, a := range audio {
		video[name] = catalog.VideoConfig{Codec: a.Codec, Container: a.Container}
	}
	return video
}

// watchCatalog forwards each catalog replacement to the video/audio
// Sources' selection loops (spec §4.3's MUST: "re-evaluate rendition
// selection on catalog change"), non-blockingly so a slow-to-drain Source
// never stalls delivery to the other.
func (p *Player) watchCatalog(ctx context.Context, updates <-chan *catalog.Catalog, videoUpdates, audioUpdates chan map[string]catalog.VideoConfig) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-updates:
			if !ok {
				return nil
			}
			if len(next.Video) > 0 {
				sendReplace(videoUpdates, next.Video)
			}
			if len(next.Audio) > 0 {
				sendReplace(audioUpdates, audioToVideoMap(next.Audio))
			}
		}
	}
}

// sendReplace delivers the latest catalog replacement non-blockingly,
// dropping a not-yet-consumed prior replacement in favor of the newest one
// — Source.Run only ever acts on the most recent rendition map.
func sendReplace(ch chan map[string]catalog.VideoConfig, video map[string]catalog.VideoConfig) {
	select {
	case ch <- video:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- video:
		default:
		}
	}
}

// Close tears down the player's connection and all child goroutines.
func (p *Player) Close() {
	if p.scope != nil {
		p.scope.Close()
	}
	if p.sessionCounted {
		p.sessionCounted = false
		observability.DecSessions()
	}
}

func (p *Player) setStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
	select {
	case p.statusCh <- s:
	default:
	}
}

// Status returns the player's current lifecycle status.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// SetPaused toggles playback pause (spec §6); pause/mute/volume are
// UI-facing knobs this package tracks but does not itself enforce — spec
// §1's Non-goals exclude rendering, and pausing a MoQ subscription (vs.
// just withholding presentation) is left to the caller's Decoder/renderer.
func (p *Player) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
}

func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}

func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
}

func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetLatency adjusts the shared Sync clock's target latency.
func (p *Player) SetLatency(d time.Duration) {
	if p.clock != nil {
		p.clock.SetLatency(d)
	}
}

// SetTarget updates the desired rendition for future selection.
func (p *Player) SetTarget(t catalog.Target) {
	p.mu.Lock()
	p.target = t
	p.mu.Unlock()
	if p.video != nil {
		p.video.SetTarget(t)
	}
}

// Target returns the currently configured rendition preference.
func (p *Player) Target() catalog.Target {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// ActiveRendition returns the video Source's currently presenting rendition.
func (p *Player) ActiveRendition() string {
	if p.video == nil {
		return ""
	}
	return p.video.ActiveRendition()
}

// BufferStatus returns the video Source's buffer status ("empty"/"filled").
func (p *Player) BufferStatus() string {
	if p.video == nil {
		return "empty"
	}
	return p.video.BufferStatus()
}

// SyncStatus returns the shared clock's current play/wait status.
func (p *Player) SyncStatus() syncclock.Status {
	if p.clock == nil {
		return syncclock.StatusWait
	}
	return p.clock.StatusSnapshot()
}

// StatsSnapshot returns the combined video/audio stats.
func (p *Player) StatsSnapshot() Stats {
	var s Stats
	if p.video != nil {
		s.Video = p.video.StatsSnapshot()
	}
	if p.audio != nil {
		s.Audio = p.audio.StatsSnapshot()
	}
	return s
}
