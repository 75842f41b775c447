package cache

import "testing"

func TestNop(t *testing.T) {
	n := NewNop()
	n.Put("key", "val")
	val, ok := n.Get("key")
	if ok {
		t.Errorf("expected ok to be false, got true")
	}
	if val != nil {
		t.Errorf("expected val to be nil, got %v", val)
	}
}

func TestNop_Delete(t *testing.T) {
	n := NewNop()
	n.Put("key", "val")
	n.Delete("key") // should not panic
	val, ok := n.Get("key")
	if ok {
		t.Errorf("expected ok to be false, got true")
	}
	if val != nil {
		t.Errorf("expected val to be nil, got %v", val)
	}
}

func TestTyped(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 4})
	defer l.Close()

	ints := NewTyped[int](l)
	ints.Put("a", 1)
	if v, ok := ints.Get("a"); !ok || v != 1 {
		t.Errorf("expected 1, got %v (ok=%v)", v, ok)
	}

	l.Put("b", "not an int")
	if _, ok := ints.Get("b"); ok {
		t.Errorf("expected a miss for a value of another type")
	}

	ints.Delete("a")
	if _, ok := ints.Get("a"); ok {
		t.Errorf("expected a miss after delete")
	}
}
