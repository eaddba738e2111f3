package service

import (
	"context"
	"time"
)

// BoardCredentials authenticate board API calls for one agency
type BoardCredentials struct {
	APIKey string
	Token  string
}

// BoardCard is the minimal card shape returned by the open-cards listing
type BoardCard struct {
	ID               string
	Name             string
	ListID           string
	DateLastActivity *time.Time
}

// BoardList is an open list on the board
type BoardList struct {
	ID   string
	Name string
}

// CardDetail is the full card payload
type CardDetail struct {
	ID               string
	Name             string
	Description      string
	ListID           string
	Closed           bool
	DateLastActivity *time.Time
	Due              *time.Time
	Labels           []string
	ShortURL         string
}

// BoardClient is the external board API. FetchCard performs a single request;
// retries live in CardFetcher.
type BoardClient interface {
	FetchOpenCards(ctx context.Context, creds BoardCredentials, boardID string) ([]BoardCard, error)
	FetchOpenLists(ctx context.Context, creds BoardCredentials, boardID string) ([]BoardList, error)
	FetchCard(ctx context.Context, creds BoardCredentials, cardID string) (*CardDetail, error)
}
