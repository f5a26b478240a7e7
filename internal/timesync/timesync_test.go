package timesync

import (
	"errors"
	"testing"
	"time"

	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/config"
)

func testSyncer(query queryFunc) *Syncer {
	s := New(config.NTPConfig{Enabled: true, Server: "ntp.test", Interval: 300}, nil)
	s.query = query
	return s
}

func TestSync_UpdatesOffset(t *testing.T) {
	s := testSyncer(func(server string) (time.Duration, error) {
		if server != "ntp.test" {
			t.Errorf("queried server %q, want ntp.test", server)
		}
		return 2 * time.Second, nil
	})

	if err := s.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if s.Offset() != 2*time.Second {
		t.Errorf("Offset() = %v, want 2s", s.Offset())
	}

	// Now() reflects the offset within scheduling slack.
	drift := time.Until(s.Now())
	if drift < 1900*time.Millisecond || drift > 2100*time.Millisecond {
		t.Errorf("Now() ahead by %v, want ~2s", drift)
	}
}

func TestSync_FailureKeepsPreviousOffset(t *testing.T) {
	calls := 0
	s := testSyncer(func(string) (time.Duration, error) {
		calls++
		if calls == 1 {
			return 3 * time.Second, nil
		}
		return 0, errors.New("i/o timeout")
	})

	if err := s.Sync(); err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}
	if err := s.Sync(); err == nil {
		t.Fatal("second Sync() error = nil, want query failure")
	}

	if s.Offset() != 3*time.Second {
		t.Errorf("Offset() after failed sync = %v, want previous 3s", s.Offset())
	}
}

func TestSync_FailureBeforeFirstSuccessFallsBackToLocalClock(t *testing.T) {
	s := testSyncer(func(string) (time.Duration, error) {
		return 0, errors.New("no route to host")
	})

	_ = s.Sync()

	if s.Offset() != 0 {
		t.Errorf("Offset() = %v, want 0 (local clock fallback)", s.Offset())
	}
}
