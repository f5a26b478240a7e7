package timesync

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/config"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/logging"
)

// queryFunc returns the clock offset reported by an NTP server.
// Overridable for tests; the default asks the real server.
type queryFunc func(server string) (time.Duration, error)

func ntpOffset(server string) (time.Duration, error) {
	resp, err := ntp.Query(server)
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Syncer keeps an offset between the local clock and an NTP reference.
//
// Credential derivation is windowed on wall-clock time, so a host clock
// drifting past half a window would authenticate with the wrong password.
// Query failures are logged and the last good offset (or zero) stays in
// effect; the local clock is always an acceptable fallback.
//
// Thread Safety: Now and Offset are safe for concurrent use.
type Syncer struct {
	server   string
	interval time.Duration
	query    queryFunc
	logger   *logging.Logger

	mu     sync.RWMutex
	offset time.Duration

	done     chan struct{}
	wg       sync.WaitGroup
	runOnce  sync.Once
	stopOnce sync.Once
}

// New creates a syncer from NTP configuration.
func New(cfg config.NTPConfig, logger *logging.Logger) *Syncer {
	if logger == nil {
		logger = logging.Default()
	}
	interval := cfg.GetInterval()
	if interval <= 0 {
		interval = 300 * time.Second
	}
	return &Syncer{
		server:   cfg.Server,
		interval: interval,
		query:    ntpOffset,
		logger:   logger.With("component", "timesync"),
		done:     make(chan struct{}),
	}
}

// Now returns the offset-adjusted current time.
func (s *Syncer) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Now().Add(s.offset)
}

// Offset returns the last measured clock offset.
func (s *Syncer) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// Sync performs one query and updates the offset. Failure keeps the
// previous offset.
func (s *Syncer) Sync() error {
	offset, err := s.query(s.server)
	if err != nil {
		s.logger.Warn("ntp query failed, keeping previous offset",
			"server", s.server,
			"error", err,
		)
		return err
	}

	s.mu.Lock()
	s.offset = offset
	s.mu.Unlock()

	s.logger.Debug("clock offset updated", "server", s.server, "offset", offset)
	return nil
}

// Start syncs once immediately, then on the configured interval until the
// context is cancelled or Stop is called.
func (s *Syncer) Start(ctx context.Context) {
	s.runOnce.Do(func() {
		_ = s.Sync()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-s.done:
					return
				case <-ticker.C:
					_ = s.Sync()
				}
			}
		}()
	})
}

// Stop stops the sync loop.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
