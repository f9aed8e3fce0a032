package oracle

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Session carries the cookies and headers the endpoint expects on every call.
// One Session is shared by all workers of a crawl.
type Session struct {
	client *http.Client
	jar    http.CookieJar

	mu      sync.RWMutex
	headers http.Header
}

// NewSession builds a session with an empty cookie jar.
func NewSession(headers map[string]string, timeout time.Duration) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("oracle: cookie jar: %w", err)
	}
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return &Session{
		client:  &http.Client{Jar: jar, Timeout: timeout},
		jar:     jar,
		headers: h,
	}, nil
}

// SetHeader replaces one default header for subsequent calls.
func (s *Session) SetHeader(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers.Set(key, value)
}

// Cookies returns the cookies the session would send to u.
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	return s.jar.Cookies(u)
}

func (s *Session) do(req *http.Request) (*http.Response, error) {
	s.mu.RLock()
	for k, vs := range s.headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	s.mu.RUnlock()
	return s.client.Do(req)
}
