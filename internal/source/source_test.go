package source

import (
	"context"
	"testing"
	"time"

	"github.com/moqsub/player/internal/catalog"
	"github.com/moqsub/player/internal/container"
	syncclock "github.com/moqsub/player/internal/sync"
)

// stubDecoder is a minimal Decoder for exercising the emission procedure
// without any real platform decode.
type stubDecoder struct {
	supported bool
	frames    chan DecodedFrame
	errs      chan error
	closed    bool
}

func newStubDecoder(supported bool) *stubDecoder {
	return &stubDecoder{
		supported: supported,
		frames:    make(chan DecodedFrame, 8),
		errs:      make(chan error, 1),
	}
}

func (d *stubDecoder) IsConfigSupported(cfg DecoderConfig) bool { return d.supported }
func (d *stubDecoder) Decode(ctx context.Context, sample container.Sample) error {
	d.frames <- DecodedFrame{Timestamp: sample.Timestamp, Data: sample.Data}
	return nil
}
func (d *stubDecoder) Frames() <-chan DecodedFrame { return d.frames }
func (d *stubDecoder) Errors() <-chan error        { return d.errs }
func (d *stubDecoder) Close() error                { d.closed = true; return nil }

func immediateClock() *syncclock.Clock {
	c := syncclock.New(0)
	c.Update(time.Now(), syncclock.ProducerMicro(0))
	return c
}

func TestEmitLatchesFirstFrameBeforeGateClears(t *testing.T) {
	clock := syncclock.New(time.Hour) // Wait would block indefinitely without cancellation
	s := New(KindVideo, nil, clock, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // makes clock.Wait return immediately with ctx.Err()

	p := &pipeline{rendition: "hd"}
	s.emit(ctx, p, DecodedFrame{Timestamp: 1000, Data: []byte("a")})

	if s.BufferStatus() != "filled" {
		t.Fatalf("BufferStatus = %s, want filled after first frame latch", s.BufferStatus())
	}
	if got := s.ActiveRendition(); got != "hd" {
		t.Fatalf("ActiveRendition = %s, want hd", got)
	}
	select {
	case pf := <-s.Published():
		if pf.Timestamp != 1000 {
			t.Fatalf("published timestamp = %d, want 1000", pf.Timestamp)
		}
	default:
		t.Fatal("expected a published placeholder frame")
	}
}

func TestEmitDropsStaleFrame(t *testing.T) {
	clock := immediateClock()
	s := New(KindVideo, nil, clock, nil, nil)
	p := &pipeline{rendition: "hd"}

	ctx := context.Background()
	s.emit(ctx, p, DecodedFrame{Timestamp: 2000, Data: []byte("b")})
	<-s.Published()

	s.emit(ctx, p, DecodedFrame{Timestamp: 1000, Data: []byte("stale")})

	select {
	case pf := <-s.Published():
		t.Fatalf("unexpected publish of stale frame: %+v", pf)
	default:
	}
	if got := s.StatsSnapshot().Timestamp; got != 2000 {
		t.Fatalf("last published timestamp = %d, want 2000 (stale frame must not overwrite)", got)
	}
}

func TestEmitCancellationDropsFrameWithoutLatch(t *testing.T) {
	// No Update is ever delivered, so the clock never leaves StatusWait;
	// Wait only returns once its context ends, exercising the step-3
	// cancelled-drop path deterministically.
	clock := syncclock.New(time.Hour)
	s := New(KindVideo, nil, clock, nil, nil)
	p := &pipeline{rendition: "hd"}

	firstCtx, cancelFirst := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelFirst()
	s.emit(firstCtx, p, DecodedFrame{Timestamp: 500, Data: []byte("x")})
	<-s.Published() // drain the step-2 latch

	ctx2, cancel := context.WithCancel(context.Background())
	cancel()
	s.emit(ctx2, p, DecodedFrame{Timestamp: 600, Data: []byte("y")})

	select {
	case pf := <-s.Published():
		t.Fatalf("unexpected publish after cancelled wait: %+v", pf)
	default:
	}
}

func TestSupportedFiltersByChecker(t *testing.T) {
	video := map[string]catalog.VideoConfig{
		"sd": {Codec: "avc1", CodedWidth: 256, CodedHeight: 144},
		"hd": {Codec: "hvc1", CodedWidth: 1920, CodedHeight: 1080},
	}
	got := Supported(func(cfg DecoderConfig) bool { return cfg.Codec == "avc1" }, video)
	if len(got) != 1 || got[0] != "sd" {
		t.Fatalf("Supported = %v, want [sd]", got)
	}
}

func TestStatsSnapshotAccumulates(t *testing.T) {
	clock := immediateClock()
	s := New(KindAudio, nil, clock, nil, nil)
	p := &pipeline{rendition: "audio"}
	ctx := context.Background()

	s.emit(ctx, p, DecodedFrame{Timestamp: 10, Data: []byte("abc")})
	<-s.Published()
	s.emit(ctx, p, DecodedFrame{Timestamp: 20, Data: []byte("de")})
	<-s.Published()

	stats := s.StatsSnapshot()
	if stats.FrameCount != 2 {
		t.Fatalf("FrameCount = %d, want 2", stats.FrameCount)
	}
	if stats.BytesReceived != 5 {
		t.Fatalf("BytesReceived = %d, want 5", stats.BytesReceived)
	}
	if stats.Timestamp != 20 {
		t.Fatalf("Timestamp = %d, want 20", stats.Timestamp)
	}
}

func TestBufferStatusEmptyBeforeFirstFrame(t *testing.T) {
	clock := immediateClock()
	s := New(KindVideo, nil, clock, nil, nil)
	if got := s.BufferStatus(); got != "empty" {
		t.Fatalf("BufferStatus = %s, want empty", got)
	}
}
