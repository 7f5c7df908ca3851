package apforgeerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOfClassifiesWrappedKindError(t *testing.T) {
	err := NotFound("actor missing", errors.New("db: no rows"))
	if KindOf(err) != KindNotFound {
		t.Errorf("KindOf = %v, want KindNotFound", KindOf(err))
	}
	if !Is(err, KindNotFound) {
		t.Errorf("Is(err, KindNotFound) = false")
	}
}

func TestKindOfDefaultsToInternalForForeignErrors(t *testing.T) {
	if KindOf(errors.New("plain")) != KindInternal {
		t.Errorf("expected KindInternal for a non-apforgeerr error")
	}
}

func TestKindOfWalksWrapChain(t *testing.T) {
	inner := RemoteFetchFailed("peer unreachable", nil)
	wrapped := fmt.Errorf("delivering activity: %w", inner)
	if !Is(wrapped, KindRemoteFetchFailed) {
		t.Errorf("expected Is to see through fmt.Errorf wrapping")
	}
}

func TestStatusCodeMapping(t *testing.T) {
	cases := map[Kind]int{
		KindBadRequest:        400,
		KindUnauthorized:      401,
		KindNotFound:          404,
		KindConflict:          409,
		KindTooManyRequests:   429,
		KindRemoteFetchFailed: 502,
		KindInternal:          500,
	}
	for kind, want := range cases {
		if got := kind.StatusCode(); got != want {
			t.Errorf("%v.StatusCode() = %d, want %d", kind, got, want)
		}
	}
}

func TestTransientOnlyForRemoteFetchFailed(t *testing.T) {
	if !KindRemoteFetchFailed.Transient() {
		t.Errorf("expected RemoteFetchFailed to be transient")
	}
	for _, kind := range []Kind{KindBadRequest, KindUnauthorized, KindNotFound, KindConflict, KindTooManyRequests, KindInternal} {
		if kind.Transient() {
			t.Errorf("%v.Transient() = true, want false", kind)
		}
	}
}

func TestErrorStringIncludesUnderlyingCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := RemoteFetchFailed("fetching remote object", cause)
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty error string")
	}
	if !strings.Contains(msg, "connection refused") {
		t.Errorf("Error() = %q, want it to include the underlying cause", msg)
	}
	if !errors.Is(err, err) {
		t.Fatalf("expected errors.Is to match itself")
	}
	if got := errors.Unwrap(err); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}
