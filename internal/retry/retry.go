// Package retry decides whether failed marketplace API calls may be retried
// and drives the exponential backoff loop around them.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// APIError is a marketplace API failure carrying the error code used for
// retry classification.
type APIError struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace api error %s (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Classification is a static (per marketplace) partition of error codes.
// Codes in neither set default to retryable: an unknown failure mode from an
// external API is assumed transient.
type Classification struct {
	Retryable map[string]struct{}
	Fatal     map[string]struct{}
}

func codeSet(codes ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// OzonClassification classifies Ozon seller API error codes.
func OzonClassification() Classification {
	return Classification{
		Retryable: codeSet(
			"TOO_MANY_REQUESTS", "INTERNAL_ERROR", "SERVICE_UNAVAILABLE",
			"TIMEOUT", "DEADLINE_EXCEEDED", "UNAVAILABLE",
		),
		Fatal: codeSet(
			"UNAUTHORIZED", "ACCESS_DENIED", "INVALID_ARGUMENT",
			"NOT_FOUND", "VALIDATION_ERROR",
		),
	}
}

// YandexClassification classifies Yandex Market API error codes.
func YandexClassification() Classification {
	return Classification{
		Retryable: codeSet(
			"LIMIT_EXCEEDED", "INTERNAL_SERVER_ERROR", "SERVICE_UNAVAILABLE",
			"TIMEOUT",
		),
		Fatal: codeSet(
			"UNAUTHORIZED", "FORBIDDEN", "BAD_REQUEST", "NOT_FOUND",
		),
	}
}

// Config bounds the backoff loop.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultConfig returns the shared backoff defaults.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, Multiplier: 2}
}

// Policy is the retry decision engine for one marketplace. It is pure
// decision logic plus the Do loop; it performs no I/O of its own and relies
// on adapter operations being idempotent (last-value-wins stock sets).
type Policy struct {
	marketplace string
	class       Classification
	cfg         Config
	log         *zap.Logger
}

// NewPolicy builds a Policy from a classification table and backoff config.
func NewPolicy(marketplace string, class Classification, cfg Config, log *zap.Logger) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultConfig().Multiplier
	}
	return &Policy{marketplace: marketplace, class: class, cfg: cfg, log: log}
}

// MaxAttempts returns the attempt ceiling.
func (p *Policy) MaxAttempts() int { return p.cfg.MaxAttempts }

// CanRetry reports whether a failed call may be attempted again.
// attempt counts completed attempts, starting at 1.
func (p *Policy) CanRetry(code, _ string, attempt int) bool {
	if attempt >= p.cfg.MaxAttempts {
		return false
	}
	if _, fatal := p.class.Fatal[code]; fatal {
		return false
	}
	return true
}

// responseErrors matches the embedded error shapes of batch responses that
// fail logically behind a 200 transport status.
type responseErrors struct {
	Errors []struct {
		Code string `json:"code"`
	} `json:"errors"`
	Result []struct {
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	} `json:"result"`
}

// ShouldRetryForResponse inspects a transport-successful response body for
// embedded per-item error codes and reports whether the call is worth
// retrying. A body without error codes is not retryable: there is nothing to
// retry.
func (p *Policy) ShouldRetryForResponse(body []byte) bool {
	var re responseErrors
	if err := json.Unmarshal(body, &re); err != nil {
		return false
	}
	var codes []string
	for _, e := range re.Errors {
		codes = append(codes, e.Code)
	}
	for _, item := range re.Result {
		for _, e := range item.Errors {
			codes = append(codes, e.Code)
		}
	}
	if len(codes) == 0 {
		return false
	}
	for _, code := range codes {
		if _, fatal := p.class.Fatal[code]; fatal {
			return false
		}
	}
	return true
}

// Do runs op with exponential backoff until it succeeds, becomes
// non-retryable, or the attempt ceiling is reached. The last error is
// surfaced as terminal, never swallowed.
func (p *Policy) Do(ctx context.Context, name string, op func(context.Context) error) error {
	delay := p.cfg.BaseDelay
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		code := ""
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			code = apiErr.Code
		}
		if !p.CanRetry(code, err.Error(), attempt) {
			return fmt.Errorf("%s: attempt %d/%d: %w", name, attempt, p.cfg.MaxAttempts, err)
		}

		p.log.Warn("retrying external call",
			zap.String("marketplace", p.marketplace),
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.cfg.Multiplier)
	}
}
