package salesforce

import (
	"context"
	"encoding/json"
	"strings"

	sfhttp "github.com/natserract/salesforce/pkg/http"
)

// Describe returns the global describe: every object type visible to the
// session.
func (c *Client) Describe(ctx context.Context) (Record, error) {
	var result Record
	if err := c.callJSON(ctx, "GET", c.base()+"sobjects", "describe", nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Limits returns the org limits snapshot.
func (c *Client) Limits(ctx context.Context) (Record, error) {
	var result Record
	if err := c.callJSON(ctx, "GET", c.base()+"limits", "limits", nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Restful performs an arbitrary request against a path under the REST base
// URL. The decoded JSON body is returned, or nil when the response body is
// empty.
func (c *Client) Restful(ctx context.Context, path string, params map[string]string, method string, body interface{}) (interface{}, error) {
	callURL, err := sfhttp.BuildURL(c.base(), path, params)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, method, callURL, path, body, nil)
	if err != nil {
		return nil, err
	}
	return decodeLoose(resp.Body), nil
}

// Tooling performs a request against the Tooling API.
func (c *Client) Tooling(ctx context.Context, path string, params map[string]string, method string, body interface{}) (interface{}, error) {
	c.mu.RLock()
	toolingURL := c.toolingURL
	c.mu.RUnlock()
	callURL, err := sfhttp.BuildURL(toolingURL, path, params)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, method, callURL, path, body, nil)
	if err != nil {
		return nil, err
	}
	return decodeLoose(resp.Body), nil
}

// Apex invokes an Apex REST endpoint. Responses that are not JSON are
// returned as a string.
func (c *Client) Apex(ctx context.Context, action string, method string, body interface{}) (interface{}, error) {
	c.mu.RLock()
	apexURL := c.apexURL
	c.mu.RUnlock()
	resp, err := c.call(ctx, method, apexURL+action, "apexecute", body, nil)
	if err != nil {
		return nil, err
	}
	return decodeLoose(resp.Body), nil
}

// OAuth2 performs a request against a path under the OAuth2 endpoint
// family, e.g. "userinfo". Non-JSON responses return nil.
func (c *Client) OAuth2(ctx context.Context, path string, params map[string]string, method string) (interface{}, error) {
	c.mu.RLock()
	oauth2URL := c.oauth2URL
	c.mu.RUnlock()
	callURL, err := sfhttp.BuildURL(oauth2URL, path, params)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, method, callURL, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(resp.Headers.Get("Content-Type"), "json") {
		return nil, nil
	}
	return decodeLoose(resp.Body), nil
}

// SetPassword sets a user's password. Salesforce answers 204 with no body
// on success; any other success status carries a JSON body that is returned
// decoded.
func (c *Client) SetPassword(ctx context.Context, userID, password string) (Record, error) {
	callURL := c.base() + "sobjects/User/" + userID + "/password"
	resp, err := c.call(ctx, "POST", callURL, "User", Record{"NewPassword": password}, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == 204 || len(resp.Body) == 0 {
		return nil, nil
	}
	var result Record
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, &GeneralError{ResponseError{
			URL:          callURL,
			StatusCode:   resp.StatusCode,
			ResourceName: "User",
			Body:         string(resp.Body),
		}}
	}
	return result, nil
}

// IsSandbox reports whether the connected org is a sandbox.
func (c *Client) IsSandbox(ctx context.Context) (bool, error) {
	result, err := c.Query(ctx, "SELECT IsSandbox FROM Organization LIMIT 1", false)
	if err != nil {
		return false, err
	}
	if len(result.Records) == 0 {
		return false, nil
	}
	isSandbox, _ := result.Records[0]["IsSandbox"].(bool)
	return isSandbox, nil
}

// decodeLoose decodes a JSON body into a generic value, falling back to the
// raw text for non-JSON payloads. Empty bodies decode to nil.
func decodeLoose(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}
