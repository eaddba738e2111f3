package trello

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/vipul43/leadsync/internal/logging"
	"github.com/vipul43/leadsync/internal/metrics"
	"github.com/vipul43/leadsync/internal/service"
)

const (
	DefaultBaseURL = "https://api.trello.com/1"

	// listing calls are bounded; detail fetches rely on CardFetcher's retry budget
	defaultListTimeout = 30 * time.Second
	defaultCardTimeout = 15 * time.Second
)

type Config struct {
	BaseURL        string
	RequestsPer10s int // Trello allows 100 per token
	ListTimeout    time.Duration
	CardTimeout    time.Duration
	HTTPClient     *http.Client
}

// Client talks to the Trello REST API
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[any]
	listTimeout time.Duration
	cardTimeout time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPer10s <= 0 {
		cfg.RequestsPer10s = 100
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = defaultListTimeout
	}
	if cfg.CardTimeout <= 0 {
		cfg.CardTimeout = defaultCardTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	burst := cfg.RequestsPer10s / 10
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  cfg.HTTPClient,
		limiter:     rate.NewLimiter(rate.Every(10*time.Second/time.Duration(cfg.RequestsPer10s)), burst),
		breaker:     newBreaker(),
		listTimeout: cfg.ListTimeout,
		cardTimeout: cfg.CardTimeout,
	}
}

func newBreaker() *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "trello-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a bad token or board id for one agency must not open the circuit for the rest
		IsSuccessful: func(err error) bool {
			return err == nil || !isUpstreamFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Trello circuit breaker state changed")
			metrics.SetCircuitState(int(to))
		},
	})
}

// apiError is a non-2xx response
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("trello API error (status %d): %s", e.StatusCode, e.Body)
}

// isUpstreamFailure reports errors that say Trello itself is unhealthy or unreachable
func isUpstreamFailure(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	var rl *service.RateLimitError
	if errors.As(err, &rl) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

type cardResponse struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Desc             string     `json:"desc"`
	IDList           string     `json:"idList"`
	Closed           bool       `json:"closed"`
	DateLastActivity *time.Time `json:"dateLastActivity"`
	Due              *time.Time `json:"due"`
	ShortURL         string     `json:"shortUrl"`
	Labels           []struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	} `json:"labels"`
}

type listResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FetchOpenCards lists the open cards of a board
func (c *Client) FetchOpenCards(ctx context.Context, creds service.BoardCredentials, boardID string) ([]service.BoardCard, error) {
	var cards []cardResponse
	path := fmt.Sprintf("/boards/%s/cards/open", url.PathEscape(boardID))
	params := url.Values{"fields": {"id,name,dateLastActivity,idList"}}

	if err := c.list(ctx, "list_cards", creds, path, params, &cards); err != nil {
		return nil, err
	}

	out := make([]service.BoardCard, 0, len(cards))
	for _, card := range cards {
		out = append(out, service.BoardCard{
			ID:               card.ID,
			Name:             card.Name,
			ListID:           card.IDList,
			DateLastActivity: card.DateLastActivity,
		})
	}
	return out, nil
}

// FetchOpenLists lists the open lists of a board
func (c *Client) FetchOpenLists(ctx context.Context, creds service.BoardCredentials, boardID string) ([]service.BoardList, error) {
	var lists []listResponse
	path := fmt.Sprintf("/boards/%s/lists", url.PathEscape(boardID))
	params := url.Values{"filter": {"open"}, "fields": {"id,name"}}

	if err := c.list(ctx, "list_lists", creds, path, params, &lists); err != nil {
		return nil, err
	}

	out := make([]service.BoardList, 0, len(lists))
	for _, l := range lists {
		out = append(out, service.BoardList{ID: l.ID, Name: l.Name})
	}
	return out, nil
}

// list runs a bounded listing call behind the circuit breaker. Every failure wraps ErrBoardTransport.
func (c *Client) list(ctx context.Context, op string, creds service.BoardCredentials, path string, params url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (any, error) {
		body, err := c.get(ctx, op, creds, path, params)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("failed to parse %s response: %w", op, err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", service.ErrBoardTransport, op, classifyListError(ctx, err))
	}
	return nil
}

// classifyListError tags listing failures as a timeout or a definite rejection
func classifyListError(ctx context.Context, err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return fmt.Errorf("%w: %w", service.ErrBoardRejected, err)
	}
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", service.ErrBoardTimeout, err)
	}
	return err
}

// FetchCard makes one request for full card detail. Only a 404, or Trello's
// 400 "invalid id", maps to ErrCardNotFound.
func (c *Client) FetchCard(ctx context.Context, creds service.BoardCredentials, cardID string) (*service.CardDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cardTimeout)
	defer cancel()

	path := fmt.Sprintf("/cards/%s", url.PathEscape(cardID))
	params := url.Values{
		"fields": {"id,name,desc,idList,closed,dateLastActivity,due,shortUrl,labels"},
	}

	body, err := c.get(ctx, "get_card", creds, path, params)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && isNotFound(apiErr) {
			return nil, service.ErrCardNotFound
		}
		return nil, err
	}

	var card cardResponse
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, fmt.Errorf("failed to parse card response: %w", err)
	}
	if card.ID == "" {
		// an empty object is a malformed response, not proof the card is gone
		return nil, fmt.Errorf("card response for %s has no id", cardID)
	}

	labels := make([]string, 0, len(card.Labels))
	for _, l := range card.Labels {
		name := l.Name
		if name == "" {
			name = l.Color
		}
		if name != "" {
			labels = append(labels, name)
		}
	}

	return &service.CardDetail{
		ID:               card.ID,
		Name:             card.Name,
		Description:      card.Desc,
		ListID:           card.IDList,
		Closed:           card.Closed,
		DateLastActivity: card.DateLastActivity,
		Due:              card.Due,
		Labels:           labels,
		ShortURL:         card.ShortURL,
	}, nil
}

func isNotFound(e *apiError) bool {
	if e.StatusCode == http.StatusNotFound {
		return true
	}
	return e.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(e.Body), "invalid id")
}

// get performs one paced GET and returns the body of a 2xx response
func (c *Client) get(ctx context.Context, op string, creds service.BoardCredentials, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("key", creds.APIKey)
	q.Set("token", creds.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error embeds the query string, which carries the token
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	metrics.RecordTrelloRequest(op, resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 400 && service.IsRateLimitMessage(string(body))) {
		return nil, &service.RateLimitError{StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apiError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	return body, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
