package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	sentinel := NotFound("order not found", "commande introuvable")
	err := fmt.Errorf("load: %w", sentinel)

	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not_found, got %s", KindOf(err))
	}
	if !errors.Is(err, sentinel) {
		t.Fatal("expected errors.Is to match sentinel")
	}
	en, fr := Messages(err)
	if en != "order not found" || fr != "commande introuvable" {
		t.Fatalf("unexpected messages %q %q", en, fr)
	}
}

func TestDurable(t *testing.T) {
	if Durable("x", nil) != nil {
		t.Fatal("nil error must stay nil")
	}
	err := Durable("orders.insert", errors.New("connection refused"))
	if KindOf(err) != KindDurable {
		t.Fatalf("expected durable kind, got %s", KindOf(err))
	}

	// already classified errors pass through untouched
	conflict := Conflict("state changed", "etat modifie")
	if got := Durable("orders.update", conflict); got != error(conflict) {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func TestUnknownErrorIsInternal(t *testing.T) {
	err := errors.New("boom")
	if KindOf(err) != KindInternal {
		t.Fatalf("expected internal, got %s", KindOf(err))
	}
	en, _ := Messages(err)
	if en != "internal error" {
		t.Fatalf("unexpected message %q", en)
	}
}
