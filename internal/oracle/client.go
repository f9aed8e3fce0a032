package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/craftctl/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidConfig     = errors.New("oracle: invalid config")
	ErrRateLimited       = errors.New("oracle: rate limited")
	ErrOverloaded        = errors.New("oracle: server overloaded")
	ErrForbidden         = errors.New("oracle: forbidden")
	ErrUnexpectedStatus  = errors.New("oracle: unexpected status")
	ErrMalformedPayload  = errors.New("oracle: malformed payload")
	ErrAttemptsExhausted = errors.New("oracle: attempts exhausted")
)

const maxBodyBytes = 1 << 20

// Result is one answer of the combine endpoint.
type Result struct {
	Output string
	IsNew  bool
	Glyph  string
}

type payload struct {
	Result *string `json:"result"`
	IsNew  bool    `json:"isNew"`
	Emoji  string  `json:"emoji"`
}

// Client calls the combine endpoint with retries. It is safe for concurrent use.
type Client struct {
	cfg      Config
	endpoint *url.URL
	session  *Session
	limiter  *rate.Limiter

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New validates cfg and binds the client to session; a nil session gets a fresh one.
func New(cfg Config, session *Session) (*Client, error) {
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be >= 1", ErrInvalidConfig)
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("%w: requests per second must be >= 0", ErrInvalidConfig)
	}
	u, err := url.Parse(strings.TrimSpace(cfg.Endpoint))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint %q", ErrInvalidConfig, cfg.Endpoint)
	}
	if session == nil {
		session, err = NewSession(cfg.Headers, cfg.RequestTimeout)
		if err != nil {
			return nil, err
		}
	}
	c := &Client{
		cfg:      cfg,
		endpoint: u,
		session:  session,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

func (c *Client) Session() *Session {
	return c.session
}

// Combine asks the oracle for a+b. Rate limiting waits RateLimitCooldown
// before the next attempt; every other failure waits the backoff delay.
func (c *Client) Combine(ctx context.Context, a, b string) (Result, error) {
	start := time.Now()
	var last error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Result{}, err
			}
		}
		res, err := c.attempt(ctx, a, b)
		observability.RecordOracleAttempt(outcome(err))
		if err == nil {
			observability.RecordOracleCall(time.Since(start), true)
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		last = err

		var delay time.Duration
		switch {
		case errors.Is(err, ErrRateLimited):
			delay = c.cfg.RateLimitCooldown
			log.Warn().Str("a", a).Str("b", b).Int("attempt", attempt).Dur("cooldown", delay).
				Msg("oracle.Client.Combine rate limited")
		case errors.Is(err, ErrForbidden):
			delay = c.backoff(attempt)
			log.Warn().Str("a", a).Str("b", b).Int("attempt", attempt).
				Msg("oracle.Client.Combine forbidden")
		default:
			delay = c.backoff(attempt)
			log.Error().Err(err).Str("a", a).Str("b", b).Int("attempt", attempt).
				Msg("oracle.Client.Combine failed")
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return Result{}, err
		}
	}
	observability.RecordOracleCall(time.Since(start), false)
	return Result{}, fmt.Errorf("%w: %q + %q after %d attempts: %w", ErrAttemptsExhausted, a, b, c.cfg.MaxAttempts, last)
}

func (c *Client) attempt(ctx context.Context, a, b string) (Result, error) {
	u := *c.endpoint
	q := u.Query()
	q.Set("first", a)
	q.Set("second", b)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("oracle: build request: %w", err)
	}
	resp, err := c.session.do(req)
	if err != nil {
		return Result{}, fmt.Errorf("oracle: request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("oracle: read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, ErrRateLimited
	case resp.StatusCode == http.StatusForbidden:
		return Result{}, ErrForbidden
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("%w: %d", ErrOverloaded, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Result == nil || strings.TrimSpace(*p.Result) == "" {
		return Result{}, fmt.Errorf("%w: missing result", ErrMalformedPayload)
	}
	return Result{Output: strings.TrimSpace(*p.Result), IsNew: p.IsNew, Glyph: p.Emoji}, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrOverloaded):
		return "overloaded"
	case errors.Is(err, ErrUnexpectedStatus):
		return "status"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "transport"
}

func sleep(ctx context.Context, d time.Duration) error {
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
