package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

// ErrBreakerOpen is returned while the circuit breaker is cooling
// down after repeated provider failures.
var ErrBreakerOpen = errors.New("ai provider circuit breaker is open")

const breakerCooldown = 30 * time.Second

// resilientProvider wraps a Provider with a per-attempt timeout,
// exponential-backoff retries and a consecutive-failure circuit
// breaker. The pipeline degrades to rule-based extraction when this
// gives up, so giving up fast beats hammering a dead endpoint.
type resilientProvider struct {
	inner      Provider
	timeout    time.Duration
	maxRetries int
	log        *logrus.Entry

	mu       sync.Mutex
	failures int
	maxFails int
	openedAt time.Time
}

// WithResilience decorates a provider with the retry and breaker
// policy from config.
func WithResilience(p Provider, cfg models.AIConfig) Provider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	maxFails := cfg.BreakerFailures
	if maxFails <= 0 {
		maxFails = 5
	}
	return &resilientProvider{
		inner:      p,
		timeout:    timeout,
		maxRetries: maxRetries,
		maxFails:   maxFails,
		log:        logrus.WithField("component", "ai").WithField("provider", p.Name()),
	}
}

func (r *resilientProvider) Name() string { return r.inner.Name() }

func (r *resilientProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if !r.allow() {
		return "", ErrBreakerOpen
	}

	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			// 1s, 2s, 4s between attempts
			delay := time.Second << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		resp, err := r.inner.Complete(attemptCtx, prompt)
		cancel()
		if err == nil {
			r.recordSuccess()
			return resp, nil
		}
		lastErr = err
		r.log.WithError(err).WithField("attempt", attempt+1).Warn("provider call failed")
		if ctx.Err() != nil {
			break
		}
	}

	r.recordFailure()
	return "", fmt.Errorf("provider %s failed after %d attempts: %w", r.inner.Name(), r.maxRetries, lastErr)
}

// allow reports whether a call may proceed, closing the breaker again
// once the cooldown has passed.
func (r *resilientProvider) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures < r.maxFails {
		return true
	}
	if time.Since(r.openedAt) >= breakerCooldown {
		r.failures = 0
		return true
	}
	return false
}

func (r *resilientProvider) recordSuccess() {
	r.mu.Lock()
	r.failures = 0
	r.mu.Unlock()
}

func (r *resilientProvider) recordFailure() {
	r.mu.Lock()
	r.failures++
	if r.failures == r.maxFails {
		r.openedAt = time.Now()
		r.log.WithField("failures", r.failures).Error("circuit breaker opened")
	}
	r.mu.Unlock()
}
