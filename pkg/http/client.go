package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client is a thin transport used by all Salesforce API clients. It never
// retries: Salesforce error responses carry semantics the caller must branch
// on, so a failed request is always surfaced as-is.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

type RequestOptions struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    interface{}
	Context context.Context
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

func NewClient() *Client {
	return NewClientWithLogger(zap.NewNop())
}

// NewClientWithLogger creates a new HTTP client with a custom logger
func NewClientWithLogger(logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// NewClientWithCertificate creates a client that presents the given PEM
// certificate/key pair to the server (mutual TLS).
func NewClientWithCertificate(certFile, keyFile string, logger *zap.Logger) (*Client, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	return &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		logger: logger,
	}, nil
}

// NewClientWithHTTPClient wraps a caller-provided *http.Client, e.g. one
// configured with proxies or custom timeouts.
func NewClientWithHTTPClient(httpClient *http.Client, logger *zap.Logger) *Client {
	return &Client{httpClient: httpClient, logger: logger}
}

func (c *Client) Do(opts RequestOptions) (*Response, error) {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := c.buildRequest(ctx, opts)
	if err != nil {
		c.logger.Error("Failed to build request", zap.Error(err), zap.String("method", opts.Method), zap.String("url", opts.URL))
		return nil, err
	}

	requestID := uuid.NewString()
	c.logger.Debug("Making HTTP request",
		zap.String("request_id", requestID),
		zap.String("method", opts.Method),
		zap.String("url", opts.URL))

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed",
			zap.Error(err),
			zap.String("request_id", requestID),
			zap.String("method", opts.Method),
			zap.String("url", opts.URL))
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.logger.Error("Failed to read response body", zap.Error(err), zap.String("request_id", requestID))
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("HTTP request completed",
		zap.String("request_id", requestID),
		zap.Int("status_code", httpResp.StatusCode),
		zap.String("method", opts.Method),
		zap.String("url", opts.URL))

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}, nil
}

func (c *Client) buildRequest(ctx context.Context, opts RequestOptions) (*http.Request, error) {
	var bodyReader io.Reader
	if opts.Body != nil {
		contentType := opts.Headers["Content-Type"]
		if contentType == "" {
			contentType = opts.Headers["content-type"]
		}

		switch v := opts.Body.(type) {
		case io.Reader:
			bodyReader = v
		case []byte:
			bodyReader = bytes.NewReader(v)
		case string:
			bodyReader = strings.NewReader(v)
		default:
			if strings.HasPrefix(strings.ToLower(contentType), "application/x-www-form-urlencoded") {
				form := url.Values{}
				switch vv := opts.Body.(type) {
				case url.Values:
					form = vv
				case map[string]string:
					for k, val := range vv {
						form.Set(k, val)
					}
				default:
					// Convert structs (or other JSON-marshalable types) into a map first.
					bodyJSON, err := json.Marshal(opts.Body)
					if err != nil {
						return nil, fmt.Errorf("failed to marshal request body: %w", err)
					}
					var m map[string]interface{}
					if err := json.Unmarshal(bodyJSON, &m); err != nil {
						return nil, fmt.Errorf("failed to unmarshal request body: %w", err)
					}
					for k, val := range m {
						if val == nil {
							continue
						}
						form.Set(k, fmt.Sprint(val))
					}
				}
				bodyReader = strings.NewReader(form.Encode())
			} else {
				bodyJSON, err := json.Marshal(opts.Body)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal request body: %w", err)
				}
				bodyReader = bytes.NewReader(bodyJSON)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set default headers
	if opts.Body != nil && opts.Headers["Content-Type"] == "" && opts.Headers["content-type"] == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	// Set custom headers
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.Do(RequestOptions{
		Method:  http.MethodGet,
		URL:     url,
		Headers: headers,
		Context: ctx,
	})
}

func (c *Client) Post(ctx context.Context, url string, headers map[string]string, body interface{}) (*Response, error) {
	return c.Do(RequestOptions{
		Method:  http.MethodPost,
		URL:     url,
		Headers: headers,
		Body:    body,
		Context: ctx,
	})
}

func (c *Client) Patch(ctx context.Context, url string, headers map[string]string, body interface{}) (*Response, error) {
	return c.Do(RequestOptions{
		Method:  http.MethodPatch,
		URL:     url,
		Headers: headers,
		Body:    body,
		Context: ctx,
	})
}

func (c *Client) Put(ctx context.Context, url string, headers map[string]string, body interface{}) (*Response, error) {
	return c.Do(RequestOptions{
		Method:  http.MethodPut,
		URL:     url,
		Headers: headers,
		Body:    body,
		Context: ctx,
	})
}

func (c *Client) Delete(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.Do(RequestOptions{
		Method:  http.MethodDelete,
		URL:     url,
		Headers: headers,
		Context: ctx,
	})
}
