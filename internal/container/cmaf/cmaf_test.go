package cmaf

import (
	"errors"
	"testing"

	"github.com/moqsub/player/internal/errs"
)

func TestDecodeRejectsMalformedInit(t *testing.T) {
	_, err := Decode([]byte("not an mp4 box"), []byte{})
	if err == nil {
		t.Fatal("expected error for malformed init segment")
	}
	var e *errs.Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *errs.Error, got %T", err)
	}
	if e.Kind != errs.MalformedContainer {
		t.Fatalf("got kind %v, want MalformedContainer", e.Kind)
	}
}

func TestDecodeRejectsMalformedGroup(t *testing.T) {
	_, err := Decode([]byte{}, []byte("not an mp4 box"))
	if err == nil {
		t.Fatal("expected error for malformed group payload")
	}
}

func TestDecodeEmptyInputs(t *testing.T) {
	if _, err := Decode(nil, nil); err == nil {
		t.Fatal("expected error for empty init segment")
	}
}
