package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCardNotFound is returned only when the board API explicitly reports the card as gone
	ErrCardNotFound = errors.New("card not found")

	// ErrBoardTransport marks a failed bulk listing call; the pass aborts without touching local state
	ErrBoardTransport = errors.New("board transport error")

	// ErrBoardTimeout accompanies ErrBoardTransport when the listing call ran out of time
	// or the breaker refused it
	ErrBoardTimeout = errors.New("board request timed out")

	// ErrBoardRejected accompanies ErrBoardTransport on a definite 4xx (bad token, unknown board)
	ErrBoardRejected = errors.New("board rejected request")

	ErrNotConfigured  = errors.New("trello is not configured for this agency")
	ErrSyncInProgress = errors.New("sync already running")
	ErrTenantNotFound = errors.New("agency not found")
)

// RateLimitError is returned when the board API throttles a request
type RateLimitError struct {
	StatusCode int
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (status %d): %s", e.StatusCode, e.Message)
}

// IsRateLimit reports whether err signals throttling, either typed or by message
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	return IsRateLimitMessage(err.Error())
}

// IsRateLimitMessage matches the throttling phrases the board API uses in error bodies
func IsRateLimitMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}
