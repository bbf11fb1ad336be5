package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond
)

// doRequestWithRetry sends req, retrying transport errors, 429 and 5xx responses with exponential backoff.
//
// A Retry-After header overrides the computed delay. Requests must be bodiless (every Spotify call here is a GET).
func (s *SpotifyService) doRequestWithRetry(req *http.Request) (*http.Response, error) {
	maxRetries := s.maxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := s.backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	ctx := req.Context()
	for attempt := range maxRetries {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
		}

		resp, err := s.httpClient.Do(req)
		retryAfter, retry := shouldRetry(resp, err)
		if !retry {
			return resp, err
		}

		if err != nil {
			s.logger.Warn("retrying spotify request", "attempt", attempt+1, "max", maxRetries, "path", req.URL.Path, "error", err)
		} else {
			s.logger.Warn("retrying spotify request", "attempt", attempt+1, "max", maxRetries, "path", req.URL.Path, "status", resp.StatusCode)
			resp.Body.Close()
		}

		if attempt == maxRetries-1 {
			if err != nil {
				return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
			}
			return nil, fmt.Errorf("request failed after %d attempts: status %d", maxRetries, resp.StatusCode)
		}

		delay := backoff * time.Duration(1<<attempt)
		if retryAfter > 0 {
			delay = retryAfter
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts", maxRetries)
}

func shouldRetry(resp *http.Response, err error) (time.Duration, bool) {
	if err != nil {
		// A cancelled request will fail the same way every time.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, false
		}
		return 0, true
	}
	if resp == nil {
		return 0, false
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return parseRetryAfter(resp), true
	}
	return 0, false
}

// parseRetryAfter reads Retry-After as delta-seconds or an HTTP date.
func parseRetryAfter(resp *http.Response) time.Duration {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if until := time.Until(when); until > 0 {
			return until
		}
	}
	return 0
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
