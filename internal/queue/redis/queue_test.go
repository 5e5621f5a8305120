package redis

import (
	"testing"
)

func TestKeysForQueue(t *testing.T) {
	t.Parallel()

	keys := KeysForQueue("priority")
	if keys.Pending != "hopper:priority:pending" {
		t.Fatalf("unexpected pending key %q", keys.Pending)
	}
	if keys.Inflight != "hopper:priority:inflight" {
		t.Fatalf("unexpected inflight key %q", keys.Inflight)
	}
}

func TestNameAndKeyIsolation(t *testing.T) {
	t.Parallel()

	a := New("a", nil)
	b := New("b", nil)
	if a.Name() != "a" || b.Name() != "b" {
		t.Fatal("queue names not preserved")
	}
	if a.keys == b.keys {
		t.Fatal("expected distinct key layouts per queue")
	}
}
