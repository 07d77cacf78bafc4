package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"designer-dispatch/internal/dispatch"
)

type fakeEngine struct {
	mu        sync.Mutex
	calls     []string
	expired   dispatch.SweepResult
	waiting   dispatch.SweepResult
	expireErr error
}

func (f *fakeEngine) ExpireStale(ctx context.Context, limit int) (dispatch.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "expire")
	return f.expired, f.expireErr
}

func (f *fakeEngine) ScheduleWaiting(ctx context.Context, limit int) (dispatch.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "schedule")
	return f.waiting, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnceExpiresBeforeScheduling(t *testing.T) {
	eng := &fakeEngine{
		expired: dispatch.SweepResult{Expired: 3, Offered: 2, Unplaced: 1},
		waiting: dispatch.SweepResult{Offered: 4, Unplaced: 2},
	}
	s, err := New(eng, "", 0, quietLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	pass, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(eng.calls) != 2 || eng.calls[0] != "expire" || eng.calls[1] != "schedule" {
		t.Fatalf("unexpected call order: %v", eng.calls)
	}
	if pass.Expired != 3 || pass.Reoffered != 2 || pass.Offered != 4 || pass.Unplaced != 3 {
		t.Fatalf("unexpected pass: %+v", pass)
	}
	totals := s.Stats()
	if totals.Passes != 1 || totals.Offered != 6 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
}

func TestRunOnceStopsOnExpireError(t *testing.T) {
	eng := &fakeEngine{expireErr: errors.New("db down")}
	s, err := New(eng, DefaultSchedule, 10, quietLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(eng.calls) != 1 {
		t.Fatalf("scheduling should not run after a failed expiry, calls=%v", eng.calls)
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"@every 30s", false},
		{"*/5 * * * *", false},
		{"@hourly", false},
		{"not a schedule", true},
		{"* * *", true},
	}
	for _, tt := range tests {
		_, err := ParseSchedule(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSchedule(%q) err=%v, wantErr=%v", tt.spec, err, tt.wantErr)
		}
	}
}

func TestStartRunsUntilCancelled(t *testing.T) {
	eng := &fakeEngine{}
	// cron rounds @every up to one second.
	s, err := New(eng, "@every 1s", 10, quietLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.After(3 * time.Second)
	for eng.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("sweeper did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
