package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := Errorf(KindIntegrity, StageMerge, "merged dataset has %d rows", 3)
	wrapped := fmt.Errorf("running pipeline: %w", base)

	if KindOf(wrapped) != KindIntegrity {
		t.Errorf("expected integrity, got %s", KindOf(wrapped))
	}
	if StageOf(wrapped) != StageMerge {
		t.Errorf("expected merge stage, got %s", StageOf(wrapped))
	}
	if base.Error() != "merge: merged dataset has 3 rows" {
		t.Errorf("unexpected message %q", base.Error())
	}
}

func TestDeadlineBecomesTimeout(t *testing.T) {
	err := New(KindUpstream, StageFetch, fmt.Errorf("page 3: %w", context.DeadlineExceeded))
	if err.Kind != KindTimeout {
		t.Errorf("expected timeout kind, got %s", err.Kind)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected deadline to stay in the chain")
	}
	if KindOf(context.DeadlineExceeded) != KindTimeout {
		t.Error("expected bare deadline to classify as timeout")
	}
}

func TestUnclassifiedIsInternal(t *testing.T) {
	err := errors.New("nil map write")
	if KindOf(err) != KindInternal {
		t.Errorf("expected internal, got %s", KindOf(err))
	}
	if Message(err) != "internal error" {
		t.Errorf("expected internal details hidden, got %q", Message(err))
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindInput:     http.StatusBadRequest,
		KindUpstream:  http.StatusBadGateway,
		KindTimeout:   http.StatusGatewayTimeout,
		KindModel:     http.StatusUnprocessableEntity,
		KindIntegrity: http.StatusInternalServerError,
		KindInternal:  http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("%s: expected %d, got %d", kind, want, got)
		}
	}
}
