package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindsMatchSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
		kind     Kind
	}{
		{Validation("op", "bad %s", "input"), ErrValidation, KindValidation},
		{NotFound("op", "missing"), ErrNotFound, KindNotFound},
		{Conflict("op", "taken"), ErrConflict, KindConflict},
		{Forbidden("op", "nope"), ErrForbidden, KindForbidden},
		{Internal("op", errors.New("boom")), ErrInternal, KindInternal},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, tc.sentinel) {
			t.Fatalf("expected %v to match its sentinel", tc.err)
		}
		if KindOf(tc.err) != tc.kind {
			t.Fatalf("expected kind %s, got %s", tc.kind, KindOf(tc.err))
		}
		wrapped := fmt.Errorf("outer: %w", tc.err)
		if KindOf(wrapped) != tc.kind {
			t.Fatalf("expected wrapped kind %s, got %s", tc.kind, KindOf(wrapped))
		}
	}
	if errors.Is(Conflict("op", "x"), ErrForbidden) {
		t.Fatalf("different kinds must not match")
	}
}

func TestMessageHidesInternalCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal("list", cause)
	if Message(err) != "internal error" {
		t.Fatalf("unexpected message %q", Message(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to stay reachable with errors.Is")
	}
	if err.Error() != "list: internal error: connection refused" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
	if Message(Validation("create", "title is required")) != "title is required" {
		t.Fatalf("expected validation message to be returned as is")
	}
	if Message(errors.New("plain")) != "internal error" {
		t.Fatalf("foreign errors must be reported as internal")
	}
}

func TestKindOfNil(t *testing.T) {
	if KindOf(nil) != "" {
		t.Fatalf("expected empty kind for nil")
	}
	if KindOf(errors.New("x")) != KindInternal {
		t.Fatalf("expected foreign errors to be internal")
	}
}
