package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"qms/clinic-queue/pkg/logging"
)

type fakeRunner struct {
	autoOpenFn func(ctx context.Context, now time.Time) (bool, error)
	refreshFn  func(ctx context.Context, now time.Time) ([]string, error)
	closeFn    func(ctx context.Context, now time.Time) (int, error)
}

func (f fakeRunner) AutoOpenIfScheduled(ctx context.Context, now time.Time) (bool, error) {
	if f.autoOpenFn == nil {
		return false, nil
	}
	return f.autoOpenFn(ctx, now)
}

func (f fakeRunner) RefreshSundayClinics(ctx context.Context, now time.Time) ([]string, error) {
	if f.refreshFn == nil {
		return nil, nil
	}
	return f.refreshFn(ctx, now)
}

func (f fakeRunner) CloseDay(ctx context.Context, now time.Time) (int, error) {
	if f.closeFn == nil {
		return 0, nil
	}
	return f.closeFn(ctx, now)
}

func TestSchedulerEntries(t *testing.T) {
	s, err := NewScheduler(fakeRunner{}, Options{Location: jst, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	entries := s.Entries()
	if len(entries) != 3 {
		t.Fatalf("entries=%d, want 3", len(entries))
	}

	from := at(2024, 1, 15, 12, 0)
	want := []time.Time{
		at(2024, 1, 16, 0, 0),
		at(2024, 1, 15, 13, 20),
		at(2024, 1, 22, 7, 0),
	}
	for i, entry := range entries {
		if got := entry.Schedule.Next(from); !got.Equal(want[i]) {
			t.Fatalf("entry %d next=%s, want %s", i, got, want[i])
		}
	}
}

func TestSchedulerWeekdaySpecSkipsWeekend(t *testing.T) {
	s, err := NewScheduler(fakeRunner{}, Options{Location: jst, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	weekday := s.Entries()[1]
	got := weekday.Schedule.Next(at(2024, 1, 19, 14, 0))
	if want := at(2024, 1, 22, 13, 20); !got.Equal(want) {
		t.Fatalf("next=%s, want %s", got, want)
	}
}

func TestSchedulerResetSpec(t *testing.T) {
	if _, err := NewScheduler(fakeRunner{}, Options{ResetSpec: "not a spec", Logger: logging.Discard()}); err == nil {
		t.Fatalf("expected invalid reset spec error")
	}
	s, err := NewScheduler(fakeRunner{}, Options{ResetSpec: "55 23 * * *", Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if len(s.Entries()) != 4 {
		t.Fatalf("entries=%d, want 4", len(s.Entries()))
	}
}

func TestAutoOpenJobPassesTruncatedLocalTime(t *testing.T) {
	var got time.Time
	runner := fakeRunner{autoOpenFn: func(ctx context.Context, now time.Time) (bool, error) {
		got = now
		return false, errors.New("store down")
	}}
	s, err := NewScheduler(runner, Options{Location: jst, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.now = func() time.Time { return time.Date(2024, 1, 15, 4, 20, 7, 0, time.UTC) }
	s.autoOpen()
	if want := at(2024, 1, 15, 13, 20); !got.Equal(want) || got.Location() != jst {
		t.Fatalf("now=%s, want %s in JST", got, want)
	}
}
