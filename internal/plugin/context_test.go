package plugin

import "testing"

func TestNewGlobalContext(t *testing.T) {
	t.Parallel()

	a := NewGlobalContext()
	b := NewGlobalContext()
	if a.RequestID == "" {
		t.Error("RequestID = empty, want generated id")
	}
	if a.RequestID == b.RequestID {
		t.Error("two generated request ids collide")
	}
}

func TestContextState(t *testing.T) {
	t.Parallel()

	c := NewContext(&GlobalContext{RequestID: "r1"})
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) ok = true, want false")
	}
	c.Set("k", 42)
	if v, ok := c.Get("k"); !ok || v != 42 {
		t.Errorf("Get(k) = %v, %v, want 42, true", v, ok)
	}

	// A zero-valued context allocates state on first Set.
	var zero Context
	zero.Set("k", "v")
	if v, ok := zero.Get("k"); !ok || v != "v" {
		t.Errorf("Get(k) = %v, %v, want v, true", v, ok)
	}
}
