package hotkey

import (
	"testing"

	hook "github.com/robotn/gohook"
)

func TestEdgeFilterDropsRepeatsAndForeignKeys(t *testing.T) {
	t.Parallel()

	var f edgeFilter
	const key = 96

	if _, ok := f.accept(hook.KeyHold, 12, key, at(0)); ok {
		t.Fatalf("foreign key must be ignored")
	}
	if _, ok := f.accept(hook.KeyUp, key, key, at(0)); ok {
		t.Fatalf("release before press must be ignored")
	}

	edge, ok := f.accept(hook.KeyHold, key, key, at(10))
	if !ok || !edge.Pressed || !edge.At.Equal(at(10)) {
		t.Fatalf("expected press edge, got %+v ok=%v", edge, ok)
	}
	if _, ok := f.accept(hook.KeyHold, key, key, at(40)); ok {
		t.Fatalf("auto-repeat must be ignored")
	}
	if _, ok := f.accept(hook.KeyDown, key, key, at(45)); ok {
		t.Fatalf("typed events must be ignored")
	}

	edge, ok = f.accept(hook.KeyUp, key, key, at(90))
	if !ok || edge.Pressed {
		t.Fatalf("expected release edge, got %+v ok=%v", edge, ok)
	}
}

func TestEdgeFilterResetsWhenKeyChanges(t *testing.T) {
	t.Parallel()

	var f edgeFilter
	f.accept(hook.KeyHold, 96, 96, at(0))

	if _, ok := f.accept(hook.KeyUp, 96, 97, at(10)); ok {
		t.Fatalf("release of the old key must not leak after a key change")
	}
	if _, ok := f.accept(hook.KeyHold, 97, 97, at(20)); !ok {
		t.Fatalf("expected press on new key")
	}
}
