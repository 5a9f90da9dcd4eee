// Package restapi talks to the external portal API this core collaborates
// with: accepted connections (the conversation list), sharable reports, and
// the doctor availability push. Responses are treated as opaque inputs.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/KeertanaGupta/mediprior-V0/internal/auth"
	"github.com/KeertanaGupta/mediprior-V0/internal/models"
)

type Config struct {
	BaseURL         string
	Timeout         time.Duration // per-attempt, default 10s
	RetryInitial    time.Duration // first retry wait, default 250ms
	RetryMaxElapsed time.Duration // total retry window, default 20s
}

type Client struct {
	base         string
	http         *http.Client
	breaker      *gobreaker.CircuitBreaker
	retryInitial time.Duration
	retryElapsed time.Duration
	logger       *zap.SugaredLogger
}

func New(cfg Config, logger *zap.SugaredLogger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryInitial == 0 {
		cfg.RetryInitial = 250 * time.Millisecond
	}
	if cfg.RetryMaxElapsed == 0 {
		cfg.RetryMaxElapsed = 20 * time.Second
	}
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    32,
		IdleConnTimeout: 90 * time.Second,
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "portal-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		base:         cfg.BaseURL,
		http:         &http.Client{Transport: tr, Timeout: cfg.Timeout},
		breaker:      cb,
		retryInitial: cfg.RetryInitial,
		retryElapsed: cfg.RetryMaxElapsed,
		logger:       logger,
	}
}

// ListConnections returns the accepted doctor/patient connections for the
// authenticated user, used to build the conversation list.
func (c *Client) ListConnections(ctx context.Context, cred auth.Credential) ([]models.Conversation, error) {
	var out []models.Conversation
	err := c.getJSON(ctx, cred, "/api/connections/", &out)
	return out, err
}

// ListReports returns the caller's sharable medical reports.
func (c *Client) ListReports(ctx context.Context, cred auth.Credential) ([]models.Report, error) {
	var out []models.Report
	err := c.getJSON(ctx, cred, "/api/reports/", &out)
	return out, err
}

// PushStatus writes the doctor's availability via the profile update path.
func (c *Client) PushStatus(ctx context.Context, cred auth.Credential, status models.Availability) error {
	if !status.Valid() {
		return fmt.Errorf("restapi: invalid status %q", status)
	}
	body, err := json.Marshal(map[string]models.Availability{"status": status})
	if err != nil {
		return err
	}
	return c.do(ctx, cred, http.MethodPatch, "/api/profile/status/", body, nil)
}

func (c *Client) getJSON(ctx context.Context, cred auth.Credential, path string, out any) error {
	return c.do(ctx, cred, http.MethodGet, path, nil, out)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("restapi: unexpected status %d", e.code)
}

// do runs one request through the circuit breaker, retrying 5xx and network
// errors with exponential backoff. ctx cancellation aborts the retry loop,
// which is what cancels in-flight calls when a conversation view closes.
func (c *Client) do(ctx context.Context, cred auth.Credential, method, path string, body []byte, out any) error {
	operation := func() error {
		_, err := c.breaker.Execute(func() (any, error) {
			var rd io.Reader
			if body != nil {
				rd = bytes.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			req.Header.Set("Authorization", "Bearer "+cred.Token)
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			defer func() {
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			}()

			switch {
			case resp.StatusCode >= 500:
				return nil, &statusError{code: resp.StatusCode}
			case resp.StatusCode >= 400:
				return nil, backoff.Permanent(&statusError{code: resp.StatusCode})
			}
			if out != nil {
				if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
					return nil, backoff.Permanent(fmt.Errorf("restapi: decode %s: %w", path, err))
				}
			}
			return nil, nil
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInitial
	bo.MaxElapsedTime = c.retryElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		c.logger.Warnw("portal api call failed", "method", method, "path", path, "err", err)
		return err
	}
	return nil
}
