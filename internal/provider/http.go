package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// DoJSON executes the request and classifies the response: 401/403 become an
// AuthError, 429 and 5xx become a TransientError (honoring Retry-After),
// other non-2xx statuses fail outright. The body is returned for 2xx.
func DoJSON(client *http.Client, providerName string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		if isNetRetryable(err) {
			return nil, &TransientError{Provider: providerName, Err: err}
		}
		return nil, fmt.Errorf("%s: request failed: %w", providerName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Provider: providerName, Err: fmt.Errorf("read response body: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Provider: providerName, Reason: fmt.Sprintf("status=%d body=%s", resp.StatusCode, truncate(body))}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{
			Provider:   providerName,
			RetryAfter: parseRetryAfter(resp),
			Err:        fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(body)),
		}
	default:
		return nil, fmt.Errorf("%s: unexpected status=%d body=%s", providerName, resp.StatusCode, truncate(body))
	}
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func isNetRetryable(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
