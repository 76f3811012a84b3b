package bus

import (
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

func TestFireDeliversInRegistrationOrder(t *testing.T) {
	b := New()
	var got []string

	b.Listen("test", func(*core.Event) { got = append(got, "a") })
	b.Listen(core.MatchAll, func(*core.Event) { got = append(got, "all") })
	b.Listen("test", func(*core.Event) { got = append(got, "b") })
	b.Listen("other", func(*core.Event) { got = append(got, "other") })

	b.Fire("test", nil)

	want := []string{"a", "all", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	unsub := b.Listen("test", func(*core.Event) { calls++ })

	if b.ListenerCount() != 1 {
		t.Fatalf("ListenerCount = %d, want 1", b.ListenerCount())
	}

	b.Fire("test", nil)
	unsub()
	unsub()
	b.Fire("test", nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if b.ListenerCount() != 0 {
		t.Errorf("ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestListenOnce(t *testing.T) {
	b := New()
	calls := 0
	b.ListenOnce("test", func(*core.Event) { calls++ })

	b.Fire("test", nil)
	b.Fire("test", nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if b.ListenerCount() != 0 {
		t.Errorf("ListenerCount = %d, want 0 after once-listener fired", b.ListenerCount())
	}
}

func TestListenOnceConcurrentFire(t *testing.T) {
	b := New()
	var mu sync.Mutex
	calls := 0
	b.ListenOnce("test", func(*core.Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Fire("test", nil)
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("calls = %d, want exactly 1", calls)
	}
}

func TestListenerAddedDuringDispatchNotInvoked(t *testing.T) {
	b := New()
	lateCalls := 0
	b.Listen("test", func(*core.Event) {
		b.Listen("test", func(*core.Event) { lateCalls++ })
	})

	b.Fire("test", nil)
	if lateCalls != 0 {
		t.Errorf("listener added during dispatch was invoked %d times", lateCalls)
	}
}

func TestListenerRemovedDuringDispatchSkipped(t *testing.T) {
	b := New()
	secondCalls := 0
	var unsubSecond func()
	b.Listen("test", func(*core.Event) { unsubSecond() })
	unsubSecond = b.Listen("test", func(*core.Event) { secondCalls++ })

	b.Fire("test", nil)
	if secondCalls != 0 {
		t.Errorf("removed listener was invoked %d times", secondCalls)
	}
}

func TestFilteredListener(t *testing.T) {
	b := New()
	var seen []any
	b.ListenFiltered("test",
		func(e *core.Event) bool { return e.Data["keep"] == true },
		func(e *core.Event) { seen = append(seen, e.Data["n"]) },
	)

	b.Fire("test", map[string]any{"keep": false, "n": 1})
	b.Fire("test", map[string]any{"keep": true, "n": 2})

	if len(seen) != 1 || seen[0] != 2 {
		t.Errorf("seen = %v, want [2]", seen)
	}
	if b.ListenerCount() != 1 {
		t.Error("filter rejection must not unsubscribe")
	}
}

func TestListenerPanicDoesNotStopDispatch(t *testing.T) {
	b := New()
	reached := false
	b.Listen("test", func(*core.Event) { panic("boom") })
	b.Listen("test", func(*core.Event) { reached = true })

	b.Fire("test", nil)
	if !reached {
		t.Error("listener after a panicking one was not invoked")
	}
}

func TestFireOptions(t *testing.T) {
	b := New()
	var got *core.Event
	b.Listen("test", func(e *core.Event) { got = e })

	ctx := core.NewContext()
	b.Fire("test", nil, WithOrigin(core.OriginRemote), WithContext(ctx))

	if got.Origin != core.OriginRemote {
		t.Errorf("Origin = %q", got.Origin)
	}
	if got.Context != ctx {
		t.Error("context not attached")
	}
	if got.Data == nil {
		t.Error("nil data should become an empty map")
	}
}

func TestEnqueueFlushPreservesOrderAcrossReentry(t *testing.T) {
	b := New()
	var order []string

	b.Listen("first", func(*core.Event) {
		order = append(order, "first")
		b.Enqueue(core.NewEvent("nested", nil, nil))
		b.Flush()
		order = append(order, "first-done")
	})
	b.Listen("nested", func(*core.Event) { order = append(order, "nested") })
	b.Listen("second", func(*core.Event) { order = append(order, "second") })

	b.Enqueue(core.NewEvent("first", nil, nil))
	b.Enqueue(core.NewEvent("second", nil, nil))
	b.Flush()

	want := []string{"first", "first-done", "second", "nested"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestListenerCounts(t *testing.T) {
	b := New()
	b.Listen("a", func(*core.Event) {})
	b.Listen("a", func(*core.Event) {})
	b.Listen("b", func(*core.Event) {})

	counts := b.ListenerCounts()
	if counts["a"] != 2 || counts["b"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
