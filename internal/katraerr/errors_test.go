package katraerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategoryOf(t *testing.T) {
	cases := []struct {
		kind Kind
		want Category
	}{
		{KindIO, CategorySystem},
		{KindNotFound, CategoryMemoryTier},
		{KindInvalidParams, CategoryInput},
		{KindAccessDenied, CategoryConsent},
		{KindAssertion, CategoryInternal},
		{KindCheckpointFailed, CategoryCheckpoint},
	}
	for _, c := range cases {
		if got := categoryOf(c.kind); got != c.want {
			t.Errorf("categoryOf(%d) = %s, want %s", c.kind, got, c.want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := IO("failed to append row", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}

	var asErr *Error
	if !errors.As(err, &asErr) {
		t.Fatal("expected errors.As to recover *Error")
	}
	if asErr.Category() != CategorySystem {
		t.Errorf("expected system category, got %s", asErr.Category())
	}
}

func TestIsHelper(t *testing.T) {
	err := AccessDenied("private record")
	if !Is(err, KindAccessDenied) {
		t.Error("expected Is to match KindAccessDenied")
	}
	if Is(err, KindNotFound) {
		t.Error("access-denied must never be reported as not-found")
	}
}

func TestAccessDeniedDistinctFromNotFound(t *testing.T) {
	denied := AccessDenied("x")
	notFound := NotFound("x")
	if denied.Code == notFound.Code {
		t.Error("access-denied and not-found must carry distinct codes")
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	err := IO("append failed", fmt.Errorf("ENOSPC"))
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty error string")
	}
}
