package path

import "testing"

func TestParseJoin(t *testing.T) {
	p := Parse("/live/channel1/")
	if p.String() != "live/channel1" {
		t.Fatalf("String() = %q", p.String())
	}

	joined := p.Join(New("video"))
	if joined.String() != "live/channel1/video" {
		t.Fatalf("Join = %q", joined.String())
	}
}

func TestHasPrefix(t *testing.T) {
	tests := map[string]struct {
		p, prefix string
		want      bool
	}{
		"exact match":   {"a/b", "a/b", true},
		"true prefix":   {"a/b/c", "a/b", true},
		"not a prefix":  {"a/bc", "a/b", false},
		"empty prefix":  {"a/b", "", true},
		"longer prefix": {"a", "a/b", false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := Parse(tt.p).HasPrefix(Parse(tt.prefix))
			if got != tt.want {
				t.Errorf("HasPrefix(%q, %q) = %v, want %v", tt.p, tt.prefix, got, tt.want)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	if !Parse("a/b").Equal(New("a", "b")) {
		t.Error("expected equal paths")
	}
	if Parse("a/b").Equal(New("a", "c")) {
		t.Error("expected unequal paths")
	}
}

func TestEmpty(t *testing.T) {
	if !Empty.IsEmpty() {
		t.Error("Empty should report IsEmpty")
	}
	if !Parse("").IsEmpty() {
		t.Error("Parse(\"\") should be empty")
	}
}
