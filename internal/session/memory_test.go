package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreGetOrCreate(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	sess, created, err := store.GetOrCreate(ctx, "CA123")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if !created {
		t.Error("first touch should create the session")
	}
	if sess.CallID != "CA123" {
		t.Errorf("CallID = %q, want %q", sess.CallID, "CA123")
	}
	if sess.Status != StatusActive {
		t.Errorf("Status = %q, want %q", sess.Status, StatusActive)
	}
	if sess.TurnIndex != 0 {
		t.Errorf("TurnIndex = %d, want 0", sess.TurnIndex)
	}

	again, created, err := store.GetOrCreate(ctx, "CA123")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if created {
		t.Error("second touch must not create a new session")
	}
	if again.CallID != sess.CallID {
		t.Errorf("CallID = %q, want %q", again.CallID, sess.CallID)
	}
}

func TestMemoryStoreConcurrentFirstTouch(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	const n = 32
	createdCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := store.GetOrCreate(ctx, "CA-race")
			if err != nil {
				t.Errorf("GetOrCreate() error = %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("created %d sessions for one call id, want exactly 1", createdCount)
	}
	if n, _ := store.Len(ctx); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	if _, _, err := store.GetOrCreate(ctx, "CA456"); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	updated, err := store.Update(ctx, "CA456", func(s *Session) error {
		s.Append(SpeakerCaller, "hello")
		s.Append(SpeakerAssistant, "hi there")
		s.TurnIndex++
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.TurnIndex != 1 {
		t.Errorf("TurnIndex = %d, want 1", updated.TurnIndex)
	}
	if len(updated.History) != 2 {
		t.Errorf("history length = %d, want 2", len(updated.History))
	}

	// The returned snapshot must be detached from store state.
	updated.Append(SpeakerCaller, "mutating the snapshot")
	fresh, err := store.Get(ctx, "CA456")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(fresh.History) != 2 {
		t.Errorf("snapshot mutation leaked into store: history length = %d, want 2", len(fresh.History))
	}
}

func TestMemoryStoreUpdateErrorRollsBack(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	if _, _, err := store.GetOrCreate(ctx, "CA789"); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	boom := errors.New("boom")
	_, err := store.Update(ctx, "CA789", func(s *Session) error {
		s.Append(SpeakerCaller, "half-applied")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}

	sess, err := store.Get(ctx, "CA789")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(sess.History) != 0 {
		t.Errorf("failed update mutated session: history length = %d, want 0", len(sess.History))
	}
}

func TestMemoryStoreTerminatedRejectsUpdate(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	if _, _, err := store.GetOrCreate(ctx, "CA-done"); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if _, err := store.Update(ctx, "CA-done", func(s *Session) error {
		s.TurnIndex = 3
		s.Status = StatusTerminated
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	sess, err := store.Update(ctx, "CA-done", func(s *Session) error {
		t.Error("mutator must not run on a terminated session")
		return nil
	})
	if !errors.Is(err, ErrSessionTerminated) {
		t.Fatalf("Update() error = %v, want ErrSessionTerminated", err)
	}
	if sess == nil || sess.TurnIndex != 3 {
		t.Errorf("terminated state changed: %+v", sess)
	}
}

func TestMemoryStoreUnknownCallID(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
	if _, err := store.Update(ctx, "missing", func(*Session) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Update() error = %v, want ErrSessionNotFound", err)
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete() of unknown id error = %v, want nil", err)
	}
}

func TestMemoryStoreReap(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	// Old abandoned call.
	if _, _, err := store.GetOrCreate(ctx, "CA-old"); err != nil {
		t.Fatal(err)
	}
	// Terminated call.
	store.now = func() time.Time { return base.Add(20 * time.Minute) }
	if _, _, err := store.GetOrCreate(ctx, "CA-ended"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Update(ctx, "CA-ended", func(s *Session) error {
		s.Status = StatusTerminated
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	// Fresh active call.
	if _, _, err := store.GetOrCreate(ctx, "CA-live"); err != nil {
		t.Fatal(err)
	}

	reaped, err := store.Reap(ctx, 15*time.Minute)
	if err != nil {
		t.Fatalf("Reap() error = %v", err)
	}
	if reaped != 2 {
		t.Errorf("Reap() = %d, want 2", reaped)
	}
	if _, err := store.Get(ctx, "CA-old"); !errors.Is(err, ErrSessionNotFound) {
		t.Error("abandoned session should have been reaped")
	}
	if _, err := store.Get(ctx, "CA-ended"); !errors.Is(err, ErrSessionNotFound) {
		t.Error("terminated session should have been reaped")
	}
	if _, err := store.Get(ctx, "CA-live"); err != nil {
		t.Errorf("live session reaped: %v", err)
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Close()
	ctx := context.Background()

	if _, _, err := store.GetOrCreate(ctx, "CA1"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("GetOrCreate() error = %v, want ErrStoreClosed", err)
	}
	if _, err := store.Reap(ctx, time.Minute); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Reap() error = %v, want ErrStoreClosed", err)
	}
}

func TestSessionWindow(t *testing.T) {
	s := &Session{}
	for i := 0; i < 5; i++ {
		s.Append(SpeakerCaller, "c")
		s.Append(SpeakerAssistant, "a")
	}

	tests := []struct {
		name string
		n    int
		want int
	}{
		{"zero means all", 0, 10},
		{"larger than history", 20, 10},
		{"trailing window", 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(s.Window(tt.n)); got != tt.want {
				t.Errorf("Window(%d) length = %d, want %d", tt.n, got, tt.want)
			}
		})
	}

	// Window must return the trailing lines, not the leading ones.
	w := s.Window(2)
	if w[len(w)-1].Speaker != SpeakerAssistant {
		t.Errorf("last window line speaker = %q, want assistant", w[len(w)-1].Speaker)
	}
}
