package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := Wrap(GroupLost, "group cancelled by relay", "video", 5, errors.New("stream reset"))
	if !errors.Is(err, New(GroupLost, "")) {
		t.Error("expected errors.Is to match on Kind")
	}
	if errors.Is(err, New(DecoderFatal, "")) {
		t.Error("expected errors.Is to not match a different Kind")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(MalformedContainer, "bad moof", "", -1, cause)
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose the cause")
	}
}

func TestErrorStringIncludesEntity(t *testing.T) {
	err := Wrap(GroupLost, "cancelled", "video", 7, nil)
	got := err.Error()
	if got == "" {
		t.Fatal("expected non-empty error string")
	}
	if !strings.Contains(got, "track=video") {
		t.Errorf("Error() = %q, want it to name track=video", got)
	}
	if !strings.Contains(got, "group=7") {
		t.Errorf("Error() = %q, want it to name group=7", got)
	}
}
