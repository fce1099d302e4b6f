package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestFindBySubject_Offline(t *testing.T) {
	r := NewRegistry()

	if conn, ok := r.FindBySubject("u1"); ok {
		t.Fatalf("expected offline, got conn %q", conn)
	}
}

func TestRegisterAndFind(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")

	conn, ok := r.FindBySubject("u1")
	if !ok {
		t.Fatal("expected u1 to be online")
	}
	if conn != "c1" {
		t.Errorf("expected c1, got %q", conn)
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 session, got %d", r.Count())
	}
}

func TestFindBySubject_FirstRegisteredWins(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "phone")
	r.Register("u1", "laptop")
	r.Register("u1", "tablet")

	for i := 0; i < 10; i++ {
		conn, _ := r.FindBySubject("u1")
		if conn != "phone" {
			t.Fatalf("iteration %d: expected phone, got %q", i, conn)
		}
	}

	r.Remove("phone")
	conn, _ := r.FindBySubject("u1")
	if conn != "laptop" {
		t.Errorf("after removing phone expected laptop, got %q", conn)
	}

	sessions := r.Sessions("u1")
	if len(sessions) != 2 || sessions[0] != "laptop" || sessions[1] != "tablet" {
		t.Errorf("unexpected sessions %v", sessions)
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")
	r.Register("u2", "c2")

	if !r.Remove("c1") {
		t.Fatal("expected Remove to report removal")
	}
	if _, ok := r.FindBySubject("u1"); ok {
		t.Error("u1 should be offline after disconnect")
	}
	if _, ok := r.FindBySubject("u2"); !ok {
		t.Error("u2 should still be online")
	}
	if _, ok := r.SubjectOf("c1"); ok {
		t.Error("c1 should no longer map to a subject")
	}
}

func TestRemove_Idempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")

	r.Remove("c1")
	if r.Remove("c1") {
		t.Error("second Remove should report nothing removed")
	}
	if r.Remove("never-registered") {
		t.Error("Remove of unknown conn should report nothing removed")
	}
	if r.Count() != 0 {
		t.Errorf("expected 0 sessions, got %d", r.Count())
	}
}

func TestRegister_RebindsConnection(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")
	r.Register("u2", "c1")

	if _, ok := r.FindBySubject("u1"); ok {
		t.Error("u1 should have lost c1")
	}
	subject, _ := r.SubjectOf("c1")
	if subject != "u2" {
		t.Errorf("expected c1 bound to u2, got %q", subject)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			subject := fmt.Sprintf("u%d", id%5)
			conn := fmt.Sprintf("c%d", id)
			r.Register(subject, conn)
			_, _ = r.FindBySubject(subject)
			r.Remove(conn)
		}(g)
	}
	wg.Wait()

	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d sessions", r.Count())
	}
}
