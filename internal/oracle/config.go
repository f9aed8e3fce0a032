package oracle

import "time"

const DefaultEndpoint = "https://neal.fun/api/infinite-craft/pair"

// Config defines the oracle endpoint and its retry policy.
type Config struct {
	Endpoint    string
	MaxAttempts int
	// RateLimitCooldown is the pause after a 429 before the next attempt.
	RateLimitCooldown time.Duration
	RequestTimeout    time.Duration
	// RequestsPerSecond caps outgoing attempts across all workers; 0 disables the cap.
	RequestsPerSecond float64
	Backoff           BackoffConfig
	Headers           map[string]string
}

// DefaultConfig retries immediately on every failure except rate limiting.
func DefaultConfig() Config {
	return Config{
		Endpoint:          DefaultEndpoint,
		MaxAttempts:       10,
		RateLimitCooldown: 60 * time.Second,
		RequestTimeout:    10 * time.Second,
		Headers:           DefaultHeaders(),
	}
}

// DefaultHeaders mimics a browser session on the game page.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Accept":             "*/*",
		"Accept-Language":    "en-US,en;q=0.9",
		"Referer":            "https://neal.fun/infinite-craft/",
		"Origin":             "https://neal.fun",
		"User-Agent":         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.0.0",
		"Sec-Ch-Ua":          `"Chromium";v="122", "Not(A:Brand";v="24", "Microsoft Edge";v="122"`,
		"Sec-Ch-Ua-Mobile":   "?0",
		"Sec-Ch-Ua-Platform": "Windows",
		"Sec-Fetch-Dest":     "empty",
		"Sec-Fetch-Mode":     "cors",
		"Sec-Fetch-Site":     "same-origin",
	}
}
