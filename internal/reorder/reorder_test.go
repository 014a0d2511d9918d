package reorder

import (
	"testing"
	"time"

	"github.com/moqsub/player/internal/container"
)

func sample(ts int64) container.Sample {
	return container.Sample{Timestamp: ts, Data: []byte("x")}
}

func TestQuorumReleasesInOrder(t *testing.T) {
	base := time.Now()
	b := New(200 * time.Millisecond)
	b.OpenGroup(1)
	b.OpenGroup(2)

	b.Push(sample(100), 1, base)
	b.Push(sample(50), 2, base)

	// Nothing has expired. ts=50 has quorum (group1's max is 100 >= 50);
	// ts=100 does not (group2's max is 50 < 100).
	out := b.Ready(base)
	if len(out) != 1 || out[0].Timestamp != 50 {
		t.Fatalf("got %v, want only ts=50 released (group1 caught up to it)", out)
	}

	// group2 produces again; its new max (150) satisfies quorum for the
	// held ts=100 frame, releasing it. The new ts=150
	// frame stays held: group1 hasn't produced anything >= 150 yet.
	b.Push(sample(150), 2, base)
	out = b.Ready(base)
	if len(out) != 1 || out[0].Timestamp != 100 {
		t.Fatalf("got %v, want only ts=100 released", out)
	}

	// group1 catches up past 150, releasing it.
	b.Push(sample(200), 1, base)
	out = b.Ready(base)
	if len(out) != 1 || out[0].Timestamp != 150 {
		t.Fatalf("got %v, want ts=150 released", out)
	}
}

func TestHoldExpiryForcesEmission(t *testing.T) {
	base := time.Now()
	b := New(100 * time.Millisecond)
	b.OpenGroup(1)
	b.OpenGroup(2)

	b.Push(sample(10), 1, base)
	// group 2 never produces; nothing should release before expiry.
	if out := b.Ready(base); len(out) != 0 {
		t.Fatalf("got %v, want nothing released before expiry", out)
	}
	out := b.Ready(base.Add(150 * time.Millisecond))
	if len(out) != 1 || out[0].Timestamp != 10 {
		t.Fatalf("got %v, want ts=10 released after expiry", out)
	}
}

func TestStaleFrameDroppedSilently(t *testing.T) {
	base := time.Now()
	b := New(100 * time.Millisecond)
	b.OpenGroup(1)

	b.Push(sample(100), 1, base)
	if out := b.Ready(base.Add(200 * time.Millisecond)); len(out) != 1 {
		t.Fatalf("expected first frame released, got %v", out)
	}

	b.Push(sample(50), 1, base) // older than lastEmitted=100
	if out := b.Ready(base.Add(200 * time.Millisecond)); len(out) != 0 {
		t.Fatalf("expected stale frame dropped, got %v", out)
	}
}

func TestCloseGroupRemovesFromQuorum(t *testing.T) {
	base := time.Now()
	b := New(time.Second)
	b.OpenGroup(1)
	b.OpenGroup(2)

	b.Push(sample(100), 1, base)
	if out := b.Ready(base); len(out) != 0 {
		t.Fatalf("expected nothing released while group 2 is open, got %v", out)
	}

	b.CloseGroup(2)
	out := b.Ready(base)
	if len(out) != 1 || out[0].Timestamp != 100 {
		t.Fatalf("got %v, want ts=100 released once group 2 closes", out)
	}
}
