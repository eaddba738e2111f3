package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/leadsync/internal/logging"
)

// RetryPolicy bounds CardFetcher. Worst case OuterAttempts*InnerAttempts requests.
type RetryPolicy struct {
	OuterAttempts int
	InnerAttempts int
	BaseBackoff   time.Duration // first rate-limit wait, doubled per occurrence
	MaxBackoff    time.Duration
	LinearDelay   time.Duration // multiplied by the outer attempt number on other errors
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		OuterAttempts: 2,
		InnerAttempts: 3,
		BaseBackoff:   2 * time.Second,
		MaxBackoff:    30 * time.Second,
		LinearDelay:   time.Second,
	}
}

// Backoff returns the wait before retrying after the n-th rate limit (1-based)
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FetchResult carries the card plus how many times the board API throttled us.
// RateLimited is meaningful even when Fetch returns an error.
type FetchResult struct {
	Card        *CardDetail
	RateLimited int
}

type CardFetcher struct {
	client BoardClient
	policy RetryPolicy
	sleep  SleepFunc
}

func NewCardFetcher(client BoardClient, policy RetryPolicy) *CardFetcher {
	return &CardFetcher{client: client, policy: policy, sleep: sleepCtx}
}

// WithSleep replaces the wait function, used by tests
func (f *CardFetcher) WithSleep(sleep SleepFunc) *CardFetcher {
	f.sleep = sleep
	return f
}

// Fetch retrieves full card detail. ErrCardNotFound is returned immediately
// and is the only error the caller may treat as a deletion.
func (f *CardFetcher) Fetch(ctx context.Context, creds BoardCredentials, cardID string) (FetchResult, error) {
	var res FetchResult
	var lastErr error

	for attempt := 1; attempt <= f.policy.OuterAttempts; attempt++ {
		card, err := f.fetchInner(ctx, creds, cardID, &res)
		if err == nil {
			res.Card = card
			return res, nil
		}
		if errors.Is(err, ErrCardNotFound) || ctx.Err() != nil {
			return res, err
		}
		lastErr = err

		if attempt == f.policy.OuterAttempts {
			break
		}

		wait := f.policy.LinearDelay * time.Duration(attempt)
		if IsRateLimit(err) {
			wait = f.policy.Backoff(res.RateLimited)
		}
		logging.Ctx(ctx).Warn().Err(err).Str("card_id", cardID).Int("attempt", attempt).
			Dur("wait", wait).Msg("Card fetch failed, retrying")
		if err := f.sleep(ctx, wait); err != nil {
			return res, err
		}
	}

	return res, fmt.Errorf("failed to fetch card %s after %d attempts: %w", cardID, f.policy.OuterAttempts, lastErr)
}

// fetchInner retries only on rate limits; other errors go back to the outer loop
func (f *CardFetcher) fetchInner(ctx context.Context, creds BoardCredentials, cardID string, res *FetchResult) (*CardDetail, error) {
	var err error
	for i := 1; i <= f.policy.InnerAttempts; i++ {
		var card *CardDetail
		card, err = f.client.FetchCard(ctx, creds, cardID)
		if err == nil {
			return card, nil
		}
		if !IsRateLimit(err) {
			return nil, err
		}

		res.RateLimited++
		if i == f.policy.InnerAttempts {
			break
		}
		if serr := f.sleep(ctx, f.policy.Backoff(res.RateLimited)); serr != nil {
			return nil, serr
		}
	}
	return nil, err
}
