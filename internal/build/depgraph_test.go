package build

import (
	"reflect"
	"testing"
)

func TestDepGraph_Invalidate(t *testing.T) {
	g := NewDepGraph()
	g.Track("b", "a")
	g.Track("c", "b")
	g.Track("d", "a")
	g.Track("x", "y")

	got := g.Invalidate("a")
	want := []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Invalidate(a) = %v, want %v", got, want)
	}

	// Unrelated modules stay untouched.
	if got := g.Invalidate("y"); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Errorf("Invalidate(y) = %v", got)
	}
}

func TestDepGraph_InvalidateLeaf(t *testing.T) {
	g := NewDepGraph()
	g.Track("b", "a")

	// A module nothing depends on invalidates only itself.
	if got := g.Invalidate("b"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("Invalidate(b) = %v", got)
	}
}

func TestDepGraph_DropForward(t *testing.T) {
	g := NewDepGraph()
	g.Track("b", "a")
	g.Track("c", "a")

	g.DropForward("b")

	if got := g.Imports("b"); got != nil {
		t.Errorf("Imports(b) = %v after drop", got)
	}
	if got := g.Dependents("a"); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("Dependents(a) = %v, want [c]", got)
	}
}

func TestDepGraph_InvalidateCycle(t *testing.T) {
	g := NewDepGraph()
	g.Track("a", "b")
	g.Track("b", "a")

	// BFS over a cyclic graph must terminate.
	got := g.Invalidate("a")
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Invalidate(a) = %v", got)
	}
}
