// Package calendar answers whether a calendar day is a trading day. Lookups
// go through an injected, TTL-scoped cache rather than process-global state,
// so deployments can share a redis instance while tests stay hermetic.
package calendar

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Cache stores per-day trading flags under a TTL
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Service resolves trading days with a weekday fallback for dates that have
// no recorded entry.
type Service struct {
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewService creates a calendar service over the given cache backend
func NewService(cache Cache, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{cache: cache, ttl: ttl, logger: logger}
}

func dayKey(date time.Time) string {
	return "calendar:trading_day:" + date.UTC().Format("2006-01-02")
}

// Lookup returns the recorded trading flag for a day and whether an entry
// exists. A cache failure reads as no entry rather than blocking settlement.
func (s *Service) Lookup(ctx context.Context, date time.Time) (trading bool, known bool) {
	value, ok, err := s.cache.Get(ctx, dayKey(date))
	if err != nil {
		s.logger.Warn("calendar cache lookup failed",
			zap.String("date", date.UTC().Format("2006-01-02")),
			zap.Error(err))
		return false, false
	}
	if !ok {
		return false, false
	}
	return value == "1", true
}

// IsTradingDay reports whether the given day is a trading day. Days without a
// recorded entry fall back to the weekday heuristic.
func (s *Service) IsTradingDay(ctx context.Context, date time.Time) bool {
	if trading, known := s.Lookup(ctx, date); known {
		return trading
	}
	return weekday(date)
}

// MarkTradingDay records whether the given day trades
func (s *Service) MarkTradingDay(ctx context.Context, date time.Time, trading bool) error {
	value := "0"
	if trading {
		value = "1"
	}
	return s.cache.Set(ctx, dayKey(date), value, s.ttl)
}

func weekday(date time.Time) bool {
	switch date.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}
