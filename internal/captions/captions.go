// Package captions implements the optional caption-track consumer
// supplemented into this module from the teacher's end-to-end captions
// pipeline (zsiec/prism: distribution.moqCatalogTrack{Name: "captions"},
// demux.Demuxer.handleCaptionSEI/drainDTVCC, ccx.CaptionFrame). The
// producer-side SEI/DTVCC extraction the teacher does is out of scope here
// — a consumer only ever receives already-decoded caption text over the
// wire — so this package reuses the teacher's own wire type,
// *ccx.CaptionFrame, and only implements decode-from-track plus
// Sync-gated emission, matching the Source package's pattern for video and
// audio.
package captions

import (
	"context"
	"log/slog"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/zsiec/ccx"

	"github.com/moqsub/player/internal/errs"
	"github.com/moqsub/player/internal/observability"
	"github.com/moqsub/player/internal/session"
	syncclock "github.com/moqsub/player/internal/sync"
)

// decode parses one caption group payload into a *ccx.CaptionFrame. Wire
// format: varint PTS (producer microseconds), varint channel, remaining
// bytes as UTF-8 text — the simplest framing that carries exactly the
// fields ccx.CaptionFrame needs. Grounded on the same quicvarint.Parse
// reading style as internal/container/legacy.
func decode(payload []byte) (*ccx.CaptionFrame, error) {
	pts, n, err := quicvarint.Parse(payload)
	if err != nil {
		return nil, errs.Wrap(errs.MalformedContainer, "read caption pts", "captions", -1, err)
	}
	payload = payload[n:]

	channel, n, err := quicvarint.Parse(payload)
	if err != nil {
		return nil, errs.Wrap(errs.MalformedContainer, "read caption channel", "captions", -1, err)
	}
	payload = payload[n:]

	return &ccx.CaptionFrame{
		PTS:     int64(pts),
		Channel: int(channel),
		Text:    string(payload),
	}, nil
}

// Source subscribes to the optional "captions" catalog track and emits
// decoded frames gated on the shared presentation clock, mirroring
// source.Source's emission discipline without the stale/latch/recheck
// dance video needs (caption text has no keyframe/reorder concerns).
type Source struct {
	clock  *syncclock.Clock
	rec    *observability.Recorder
	logger *slog.Logger

	frames chan *ccx.CaptionFrame
}

// New constructs a Source sharing clock with the Player's video/audio
// Sources, so captions present in lockstep with picture (spec §5).
func New(clock *syncclock.Clock, rec *observability.Recorder, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		clock:  clock,
		rec:    rec,
		logger: logger,
		frames: make(chan *ccx.CaptionFrame, 16),
	}
}

// Frames returns the channel of Sync-gated caption frames.
func (s *Source) Frames() <-chan *ccx.CaptionFrame {
	return s.frames
}

// Run subscribes to the broadcast's captions track, if present, and pumps
// decoded frames until ctx is cancelled or the track ends. Callers should
// treat a non-nil error as "no captions for this broadcast" rather than
// fatal: spec.md's MalformedCatalog/optional-track handling applies.
func (s *Source) Run(ctx context.Context, broadcast *session.Broadcast) error {
	track, err := broadcast.Subscribe(ctx, "captions", session.PriorityAudio+1)
	if err != nil {
		return errs.Wrap(errs.BroadcastUnavailable, "subscribe captions", "captions", -1, err)
	}

	for {
		group, frame, err := track.NextGroup(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("captions: group lost", "error", err)
			}
			return nil
		}
		s.handleGroup(ctx, group, frame)
	}
}

func (s *Source) handleGroup(ctx context.Context, group *session.Group, first *session.Frame) {
	payload := append([]byte(nil), first.Data...)
	for {
		f, err := group.ReadFrame(ctx)
		if err != nil {
			break
		}
		payload = append(payload, f.Data...)
	}

	cf, err := decode(payload)
	if err != nil {
		s.logger.Warn("captions: malformed group, dropping", "group", group.Number, "error", err)
		return
	}

	if err := s.clock.Wait(ctx, syncclock.ProducerMicro(cf.PTS)); err != nil {
		return
	}

	if s.rec != nil {
		s.rec.FrameReceived()
	}

	select {
	case s.frames <- cf:
	case <-ctx.Done():
	default:
		// Never block the caption pipeline behind a slow UI consumer;
		// drop the oldest unread caption instead.
		select {
		case <-s.frames:
		default:
		}
		select {
		case s.frames <- cf:
		default:
		}
	}
}
