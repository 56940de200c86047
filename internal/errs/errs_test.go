package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf_WalksChain(t *testing.T) {
	base := New(HostMismatch, "action %s belongs to another host", "a1")
	wrapped := fmt.Errorf("report: %w", base)
	if got := KindOf(wrapped); got != HostMismatch {
		t.Fatalf("expected HOST_MISMATCH, got %q", got)
	}
	if !Is(wrapped, HostMismatch) {
		t.Fatalf("Is should match wrapped kind")
	}
	if got := KindOf(errors.New("boom")); got != Internal {
		t.Fatalf("unclassified errors must be internal, got %q", got)
	}
	if KindOf(nil) != "" {
		t.Fatalf("nil error has no kind")
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Internal, cause, "insert action")
	if !errors.Is(err, cause) {
		t.Fatalf("cause not reachable via errors.Is")
	}
	if err.Error() != "insert action: disk full" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if Wrap(Internal, nil, "noop") != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		Unauthorized:           http.StatusUnauthorized,
		Forbidden:              http.StatusForbidden,
		HostMismatch:           http.StatusForbidden,
		Validation:             http.StatusBadRequest,
		NotFound:               http.StatusNotFound,
		InvalidStateTransition: http.StatusConflict,
		Conflict:               http.StatusConflict,
		Internal:               http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Fatalf("%s: expected %d, got %d", kind, want, got)
		}
	}
}
