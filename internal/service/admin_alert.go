package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	EventOracleAlert     = "oracle_alert"
	EventOracleRecovered = "oracle_recovered"
)

type failureState struct {
	count       int
	lastAlertAt time.Time
}

// AdminAlertService tracks consecutive oracle failures per market address
// and escalates to the alert sink once the cutoff is reached, at most once per
// cooldown window.
type AdminAlertService struct {
	mu       sync.Mutex
	states   map[string]*failureState
	cutoff   int
	cooldown time.Duration
	now      func() time.Time
	sink     AlertSink
	logger   *slog.Logger
}

// NewAdminAlertService creates the service. sink may be nil, in which case
// alerts are only logged.
func NewAdminAlertService(cutoff int, cooldown time.Duration, sink AlertSink, logger *slog.Logger) *AdminAlertService {
	if cutoff <= 0 {
		cutoff = 2
	}
	return &AdminAlertService{
		states:   make(map[string]*failureState),
		cutoff:   cutoff,
		cooldown: cooldown,
		now:      time.Now,
		sink:     sink,
		logger:   logger.With(slog.String("component", "admin_alert")),
	}
}

// RecordFailure counts one failed oracle call for address and reports
// whether an alert fired.
func (s *AdminAlertService) RecordFailure(ctx context.Context, address, operation string, cause error, attempts int) bool {
	key := strings.ToLower(address)
	now := s.now()

	s.mu.Lock()
	st, ok := s.states[key]
	if !ok {
		st = &failureState{}
		s.states[key] = st
	}
	st.count++
	count := st.count
	fire := count >= s.cutoff && (st.lastAlertAt.IsZero() || now.Sub(st.lastAlertAt) >= s.cooldown)
	if fire {
		st.lastAlertAt = now
	}
	s.mu.Unlock()

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	s.logger.WarnContext(ctx, "oracle call failed",
		slog.String("address", key),
		slog.String("operation", operation),
		slog.Int("attempts", attempts),
		slog.Int("consecutive_failures", count),
		slog.String("error", errMsg),
	)
	if !fire {
		return false
	}

	s.logger.ErrorContext(ctx, "oracle alert fired",
		slog.String("address", key),
		slog.Int("consecutive_failures", count),
	)
	s.send(ctx, EventOracleAlert,
		"Oracle sync failing",
		fmt.Sprintf("%s failed %d times in a row for market %s (last error after %d attempts: %s)",
			operation, count, key, attempts, errMsg),
	)
	return true
}

// RecordSuccess resets the failure count for address and reports whether a
// recovery notice was sent, which only happens after prior failures.
func (s *AdminAlertService) RecordSuccess(ctx context.Context, address string) bool {
	key := strings.ToLower(address)

	s.mu.Lock()
	st, ok := s.states[key]
	prior := 0
	if ok {
		prior = st.count
		st.count = 0
	}
	s.mu.Unlock()

	if prior == 0 {
		return false
	}
	s.logger.InfoContext(ctx, "oracle recovered",
		slog.String("address", key),
		slog.Int("previous_failures", prior),
	)
	s.send(ctx, EventOracleRecovered,
		"Oracle sync recovered",
		fmt.Sprintf("market %s recovered after %d consecutive failures", key, prior),
	)
	return true
}

// FailureCount returns the current consecutive failure count for address.
func (s *AdminAlertService) FailureCount(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[strings.ToLower(address)]; ok {
		return st.count
	}
	return 0
}

func (s *AdminAlertService) send(ctx context.Context, event, title, message string) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Notify(ctx, event, title, message); err != nil {
		s.logger.ErrorContext(ctx, "alert delivery failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
