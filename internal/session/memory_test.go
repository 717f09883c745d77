package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestConfirmAndLookup(t *testing.T) {
	m := New()

	if _, ok := m.Lookup("LOT 14364098"); ok {
		t.Fatal("empty memory should not resolve anything")
	}

	got := m.Confirm("LOT 14364098", "LOT-14364098")
	if got != "LOT-14364098" {
		t.Errorf("Confirm returned %q", got)
	}

	v, ok := m.Lookup("LOT 14364098")
	if !ok || v != "LOT-14364098" {
		t.Errorf("Lookup = %q, %v", v, ok)
	}
}

func TestFirstConfirmationWins(t *testing.T) {
	m := New()
	m.Confirm("mat x", "MAT-001")
	got := m.Confirm("mat x", "MAT-002")
	if got != "MAT-001" {
		t.Errorf("second Confirm overwrote first: %q", got)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestConcurrentConfirm(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("raw-%d", i%10)
			m.Confirm(key, fmt.Sprintf("canonical-%d", i%10))
		}(i)
	}
	wg.Wait()

	if m.Len() != 10 {
		t.Errorf("Len = %d, want 10", m.Len())
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	a := New()
	b := New()
	if a.ID() == b.ID() {
		t.Error("two sessions share an ID")
	}
	a.Confirm("x", "X-1")
	if _, ok := b.Lookup("x"); ok {
		t.Error("confirmation leaked across sessions")
	}
}
