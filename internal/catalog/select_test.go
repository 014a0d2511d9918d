package catalog

import "testing"

func videoMap() map[string]VideoConfig {
	return map[string]VideoConfig{
		"sd": {Codec: "avc1.640015", CodedWidth: 256, CodedHeight: 144},
		"hd": {Codec: "avc1.640028", CodedWidth: 1920, CodedHeight: 1080},
	}
}

func TestSelectExactRenditionOverride(t *testing.T) {
	got := Select([]string{"sd", "hd"}, videoMap(), Target{Rendition: "sd", Pixels: 1920 * 1080})
	if got != "sd" {
		t.Fatalf("got %q, want sd", got)
	}
}

func TestSelectByPixelsSmallestAbove(t *testing.T) {
	got := Select([]string{"sd", "hd"}, videoMap(), Target{Pixels: 300 * 200})
	if got != "hd" {
		t.Fatalf("got %q, want hd (smallest above 300x200)", got)
	}
}

func TestSelectByPixelsLargestBelow(t *testing.T) {
	got := Select([]string{"sd", "hd"}, videoMap(), Target{Pixels: 4000 * 3000})
	if got != "hd" {
		t.Fatalf("got %q, want hd (largest below target)", got)
	}
}

func TestSelectDefaultLargest(t *testing.T) {
	got := Select([]string{"sd", "hd"}, videoMap(), Target{})
	if got != "hd" {
		t.Fatalf("got %q, want hd (default: as large as possible)", got)
	}
}

func TestSelectNoSupportedReturnsEmpty(t *testing.T) {
	if got := Select(nil, videoMap(), Target{}); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestSelectNoDimensionsFallsBackToFirstByName(t *testing.T) {
	video := map[string]VideoConfig{
		"b": {Codec: "avc1"},
		"a": {Codec: "avc1"},
	}
	got := Select([]string{"b", "a"}, video, Target{Pixels: 100})
	if got != "a" {
		t.Fatalf("got %q, want a (stable name order)", got)
	}
}

func TestSelectDeterministic(t *testing.T) {
	video := videoMap()
	target := Target{Pixels: 300 * 200}
	first := Select([]string{"sd", "hd"}, video, target)
	for i := 0; i < 20; i++ {
		if got := Select([]string{"sd", "hd"}, video, target); got != first {
			t.Fatalf("selection not deterministic: got %q, want %q", got, first)
		}
	}
}
