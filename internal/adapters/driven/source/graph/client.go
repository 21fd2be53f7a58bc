// Package graph implements the sharepoint, enterprise_sharepoint and
// onedrive Source Adapters against the Microsoft Graph API, grounded on
// the same client-credentials/retry/delta shape used throughout the
// onedrive-go example pack.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/logger"
)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"

	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// Sentinel errors for HTTP status classification, mapped onto the domain
// error taxonomy (spec §4.1, §7) by the caller.
var (
	errNotFound  = errors.New("graph: not found")
	errGone      = errors.New("graph: token expired")
	errThrottled = errors.New("graph: throttled")
	errServer    = errors.New("graph: server error")
	errAuth      = errors.New("graph: unauthorized")
)

// client is a thin retrying HTTP client for the Graph API, authenticated
// via a client-credentials OAuth2 flow.
type client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	sleepFunc func(ctx context.Context, d time.Duration) error
}

func newClient(cfg ClientConfig) *client {
	tokenSource := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}.TokenSource(context.Background())

	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   http.DefaultTransport,
			Source: tokenSource,
		},
		Timeout: 60 * time.Second,
	}
	return newClientFrom(cfg, httpClient)
}

// newClientFrom builds a client around an already-authenticated
// httpClient — the seam tests use to point at an httptest.Server instead
// of performing a real OAuth2 exchange.
func newClientFrom(cfg ClientConfig, httpClient *http.Client) *client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &client{
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.requestsPerSecond()), 1),
		sleepFunc:  timeSleep,
	}
}

func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) get(ctx context.Context, path string) (*http.Response, error) {
	url := path
	if !strings.HasPrefix(url, "http") {
		url = c.baseURL + path
	}

	var attempt int
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Prefer", "deltashowremoteitemsaliasid")

		resp, err := c.httpClient.Do(req)
		if err == nil && resp.StatusCode < 300 {
			return resp, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		} else {
			classified := classifyStatus(resp.StatusCode)
			resp.Body.Close()
			if classified == errNotFound || classified == errGone || classified == errAuth {
				return nil, classified
			}
			err = classified
		}

		if attempt >= maxRetries {
			return nil, fmt.Errorf("graph: request failed after %d attempts: %w", attempt+1, err)
		}

		backoff := calcBackoff(attempt)
		logger.Debug("graph: retrying request after error: %v (attempt %d, backoff %s)", err, attempt+1, backoff)
		if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil, sleepErr
		}
		attempt++
	}
}

func calcBackoff(attempt int) time.Duration {
	d := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if d > float64(maxBackoff) {
		d = float64(maxBackoff)
	}
	jitter := d * jitterFraction * (rand.Float64()*2 - 1)
	return time.Duration(d + jitter)
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusNotFound:
		return errNotFound
	case code == http.StatusGone:
		return errGone
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errAuth
	case code == http.StatusTooManyRequests:
		return errThrottled
	case code >= 500:
		return errServer
	default:
		return fmt.Errorf("graph: unexpected status %d", code)
	}
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

// mapGraphErr translates graph sentinels to the domain error taxonomy.
func mapGraphErr(err error) error {
	switch {
	case errors.Is(err, errNotFound):
		return domain.ErrSourceNotFound
	case errors.Is(err, errAuth), errors.Is(err, errServer):
		return fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	case errors.Is(err, errThrottled):
		return fmt.Errorf("%w: %v", domain.ErrTransientError, err)
	default:
		return err
	}
}
