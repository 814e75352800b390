// Package salesforce is a client for the Salesforce REST, Bulk 1.0/2.0,
// Composite and Metadata APIs. A Client wraps one authenticated session and
// hands out typed sub-clients per API family.
package salesforce

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/natserract/salesforce/pkg/config"
	sfhttp "github.com/natserract/salesforce/pkg/http"
)

// DefaultAPIVersion is used when credentials don't specify a version.
const DefaultAPIVersion = "52.0"

// Record is one Salesforce record: a mapping of field name to value. No
// schema is enforced client-side; the server defines validity.
type Record = map[string]interface{}

// Client is an authenticated Salesforce connection.
type Client struct {
	httpClient *sfhttp.Client
	logger     *zap.Logger

	// creds is retained for flows that can re-login; nil for direct
	// sessions, which cannot be refreshed.
	creds *Credentials

	mu      sync.RWMutex
	session *Session
	usage   APIUsage

	baseURL     string
	apexURL     string
	bulkURL     string
	bulk2URL    string
	metadataURL string
	toolingURL  string
	oauth2URL   string
	waveURL     string
}

type Option func(*Client)

// WithLogger attaches a zap logger; the default is a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient replaces the transport, e.g. for proxies or mutual TLS.
func WithHTTPClient(httpClient *sfhttp.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// New logs in with the given credentials and returns a ready client.
func New(ctx context.Context, creds Credentials, opts ...Option) (*Client, error) {
	c := &Client{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = sfhttp.NewClientWithLogger(c.logger)
	}

	session, err := Login(ctx, c.httpClient, creds, c.logger)
	if err != nil {
		return nil, err
	}
	if session.AuthType != AuthTypeDirect {
		credsCopy := creds
		c.creds = &credsCopy
	}
	c.session = session
	c.rebuildURLs()

	c.logger.Info("Salesforce client ready",
		zap.String("instance", session.Instance),
		zap.String("version", session.Version),
		zap.String("auth_type", string(session.AuthType)))
	return c, nil
}

// NewFromEnv builds a client from environment configuration, honoring the
// optional client-certificate transport.
func NewFromEnv(ctx context.Context, opts ...Option) (*Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	creds := Credentials{
		Username:       cfg.Username,
		Password:       cfg.Password,
		SecurityToken:  cfg.SecurityToken,
		OrganizationID: cfg.OrganizationID,
		ConsumerKey:    cfg.ConsumerKey,
		PrivateKeyFile: cfg.PrivateKeyFile,
		SessionID:      cfg.SessionID,
		Instance:       cfg.Instance,
		Domain:         cfg.Domain,
		Version:        cfg.APIVersion,
	}

	if cfg.CertFile != "" {
		c := &Client{logger: zap.NewNop()}
		for _, opt := range opts {
			opt(c)
		}
		httpClient, err := sfhttp.NewClientWithCertificate(cfg.CertFile, cfg.KeyFile, c.logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithHTTPClient(httpClient))
	}

	return New(ctx, creds, opts...)
}

func (c *Client) rebuildURLs() {
	instance, version := c.session.Instance, c.session.Version
	c.baseURL = fmt.Sprintf("https://%s/services/data/v%s/", instance, version)
	c.apexURL = fmt.Sprintf("https://%s/services/apexrest/", instance)
	c.bulkURL = fmt.Sprintf("https://%s/services/async/%s/", instance, version)
	c.bulk2URL = c.baseURL + "jobs/"
	c.metadataURL = fmt.Sprintf("https://%s/services/Soap/m/%s/", instance, version)
	c.toolingURL = c.baseURL + "tooling/"
	c.oauth2URL = fmt.Sprintf("https://%s/services/oauth2/", instance)
	c.waveURL = c.baseURL + "wave/"
}

// SessionID returns the current session id.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.ID
}

// Instance returns the instance host API URLs are built from.
func (c *Client) Instance() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Instance
}

// Version returns the API version in use.
func (c *Client) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Version
}

// APIUsage returns the most recently observed rate-limit snapshot. The
// value is eventually consistent: it is overwritten by every call that
// returns usage headers.
func (c *Client) APIUsage() APIUsage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usage
}

func (c *Client) setUsage(usage APIUsage) {
	c.mu.Lock()
	c.usage = usage
	c.mu.Unlock()
}

// SObject returns the CRUD client for one object type, e.g. "Contact".
func (c *Client) SObject(name string) *SObjectClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &SObjectClient{
		client:  c,
		name:    name,
		baseURL: c.baseURL + "sobjects/" + name + "/",
	}
}

// Bulk returns the Bulk 1.0 client for one object type.
func (c *Client) Bulk(objectName string) *BulkObjectClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &BulkObjectClient{
		client:     c,
		objectName: objectName,
		bulkURL:    c.bulkURL,
	}
}

// Bulk2 returns the Bulk 2.0 client for one object type.
func (c *Client) Bulk2(objectName string) *Bulk2ObjectClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Bulk2ObjectClient{
		client:     c,
		objectName: objectName,
		bulk2URL:   c.bulk2URL,
	}
}

// Composite returns the composite collections client.
func (c *Client) Composite() *CompositeClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &CompositeClient{
		client:       c,
		compositeURL: c.baseURL + "composite/",
	}
}

// Metadata returns the Metadata SOAP client.
func (c *Client) Metadata() *MetadataClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &MetadataClient{
		client:      c,
		metadataURL: c.metadataURL,
	}
}

// Analytics returns the CRM Analytics (Wave) client.
func (c *Client) Analytics() *AnalyticsClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &AnalyticsClient{
		client:  c,
		waveURL: c.waveURL,
	}
}
