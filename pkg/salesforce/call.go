package salesforce

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	sfhttp "github.com/natserract/salesforce/pkg/http"
)

// authHeaders builds the standard request headers for one call. extra wins
// on key conflicts, so callers can override Content-Type for CSV or XML
// payloads.
func (c *Client) authHeaders(extra map[string]string) map[string]string {
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + c.SessionID(),
		"X-PrettyPrint": "1",
	}
	for k, v := range extra {
		headers[k] = v
	}
	return headers
}

// call performs one Salesforce API request. Non-2xx responses are mapped to
// the typed error for their status code and never retried, with one
// exception: a 401 on a client holding re-loginable credentials triggers a
// single session refresh and replay. Rate-limit headers on successful
// responses update the usage snapshot.
func (c *Client) call(ctx context.Context, method, callURL, resourceName string, body interface{}, extraHeaders map[string]string) (*sfhttp.Response, error) {
	resp, err := c.httpClient.Do(sfhttp.RequestOptions{
		Method:  method,
		URL:     callURL,
		Headers: c.authHeaders(extraHeaders),
		Body:    body,
		Context: ctx,
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == 401 && c.creds != nil {
		c.logger.Info("Session expired, logging in again",
			zap.String("url", callURL))
		if err := c.refreshSession(ctx); err != nil {
			return nil, fmt.Errorf("session refresh failed: %w", err)
		}
		resp, err = c.httpClient.Do(sfhttp.RequestOptions{
			Method:  method,
			URL:     callURL,
			Headers: c.authHeaders(extraHeaders),
			Body:    body,
			Context: ctx,
		})
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode >= 300 {
		return nil, statusError(callURL, resp.StatusCode, resourceName, resp.Body)
	}

	if limitInfo := resp.Headers.Get("Sforce-Limit-Info"); limitInfo != "" {
		c.setUsage(parseAPIUsage(limitInfo))
	}
	return resp, nil
}

// refreshSession re-runs the login flow the client was built with and swaps
// in the new session. Direct sessions have no credentials to re-login with
// and are never refreshed.
func (c *Client) refreshSession(ctx context.Context) error {
	session, err := Login(ctx, c.httpClient, *c.creds, c.logger)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.session = session
	c.rebuildURLs()
	c.mu.Unlock()
	return nil
}

// callJSON performs a request and decodes the JSON response body into out.
// A nil out or an empty body skips decoding.
func (c *Client) callJSON(ctx context.Context, method, callURL, resourceName string, body interface{}, extraHeaders map[string]string, out interface{}) error {
	resp, err := c.call(ctx, method, callURL, resourceName, body, extraHeaders)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", resourceName, err)
	}
	return nil
}
