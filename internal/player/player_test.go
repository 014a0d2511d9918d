package player

import (
	"context"
	"testing"
	"time"

	"github.com/moqsub/player/internal/catalog"
)

func TestScopeRunsCleanupsLIFO(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	sc := newScope(cancel)

	var order []int
	sc.Defer(func() { order = append(order, 1) })
	sc.Defer(func() { order = append(order, 2) })
	sc.Defer(func() { order = append(order, 3) })

	sc.Close()

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestScopeCloseCancelsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sc := newScope(cancel)
	sc.Close()
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected scope context cancelled after Close")
	}
}

func TestPlayerStatusDefaultsIdle(t *testing.T) {
	p := New(Options{})
	if p.Status() != StatusIdle {
		t.Fatalf("Status() = %v, want idle", p.Status())
	}
}

func TestPlayerSetStatusNotifies(t *testing.T) {
	p := New(Options{})
	p.setStatus(StatusLive)

	select {
	case s := <-p.StatusChanges():
		if s != StatusLive {
			t.Fatalf("status = %v, want live", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status change")
	}
	if p.Status() != StatusLive {
		t.Fatalf("Status() = %v, want live", p.Status())
	}
}

func TestPlayerPauseMuteVolumeRoundTrip(t *testing.T) {
	p := New(Options{})

	if p.Paused() {
		t.Fatal("expected not paused by default")
	}
	p.SetPaused(true)
	if !p.Paused() {
		t.Fatal("expected paused after SetPaused(true)")
	}

	if p.Muted() {
		t.Fatal("expected not muted by default")
	}
	p.SetMuted(true)
	if !p.Muted() {
		t.Fatal("expected muted after SetMuted(true)")
	}

	if v := p.Volume(); v != 1.0 {
		t.Fatalf("default Volume() = %v, want 1.0", v)
	}
	p.SetVolume(0.5)
	if v := p.Volume(); v != 0.5 {
		t.Fatalf("Volume() = %v, want 0.5", v)
	}
}

func TestPlayerTargetRoundTrip(t *testing.T) {
	p := New(Options{})
	target := catalog.Target{Rendition: "hd"}
	p.SetTarget(target)
	if got := p.Target(); got != target {
		t.Fatalf("Target() = %+v, want %+v", got, target)
	}
}

func TestPlayerZeroValueSurfaceIsSafe(t *testing.T) {
	p := New(Options{})
	if got := p.ActiveRendition(); got != "" {
		t.Fatalf("ActiveRendition() = %q, want empty before Start", got)
	}
	if got := p.BufferStatus(); got != "empty" {
		t.Fatalf("BufferStatus() = %q, want empty before Start", got)
	}
	_ = p.SyncStatus() // must not panic with a nil clock
	_ = p.StatsSnapshot()
}
