package storage

import "testing"

type widget struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKeyJoinInjective(t *testing.T) {
	a := KeyJoin([]string{"ab", "c"})
	b := KeyJoin([]string{"a", "bc"})
	if a == b {
		t.Fatalf("KeyJoin collided: %q == %q", a, b)
	}
}

func TestDictPutGet(t *testing.T) {
	s := newTestStorage(t)
	root := NewRootDir("party_a")
	d := NewDict[widget](s, "widgets", root)

	if _, err := d.Get("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := d.Put("w1", widget{Name: "gear", Count: 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := d.Get("w1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "gear" || got.Count != 3 {
		t.Fatalf("unexpected value: %+v", got)
	}

	ok, err := d.Contains("w1")
	if err != nil || !ok {
		t.Fatalf("Contains: ok=%v err=%v", ok, err)
	}

	n, err := d.Len()
	if err != nil || n != 1 {
		t.Fatalf("Len: n=%d err=%v", n, err)
	}

	if err := d.Delete("w1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := d.Contains("w1"); ok {
		t.Fatalf("expected w1 to be gone")
	}
}

func TestDictKeysInsertionOrder(t *testing.T) {
	s := newTestStorage(t)
	d := NewDict[widget](s, "ordered", nil)

	order := []string{"c3", "a1", "b2"}
	for _, k := range order {
		if err := d.Put(k, widget{Name: k}); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	keys, err := d.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != len(order) {
		t.Fatalf("got %d keys, want %d", len(keys), len(order))
	}
	for i, k := range keys {
		if k != order[i] {
			t.Fatalf("keys[%d] = %q, want %q (insertion order not preserved)", i, k, order[i])
		}
	}
}

func TestDictNamespaceIsolation(t *testing.T) {
	s := newTestStorage(t)
	root := NewRootDir("party_a")
	channelDir := root.Sub("channel").Sub("party_b")

	objectStore := NewDict[widget](s, "object_store", root.Sub("processor"))
	committed := NewDict[widget](s, "committed_commands", channelDir)

	if err := objectStore.Put("v1", widget{Name: "object"}); err != nil {
		t.Fatalf("Put object_store: %v", err)
	}
	if err := committed.Put("v1", widget{Name: "command"}); err != nil {
		t.Fatalf("Put committed: %v", err)
	}

	got, err := objectStore.Get("v1")
	if err != nil {
		t.Fatalf("Get object_store: %v", err)
	}
	if got.Name != "object" {
		t.Fatalf("namespace collision: got %+v from object_store", got)
	}
}
