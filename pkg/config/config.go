package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// DefaultAPIVersion is used whenever SALESFORCE_API_VERSION is unset.
const DefaultAPIVersion = "52.0"

// Config holds the credentials and transport settings read from the
// environment. Exactly one authentication method must be complete:
// password+token, password+organization id, consumer key+private key (JWT),
// or a pre-existing session id and instance.
type Config struct {
	Username       string
	Password       string
	SecurityToken  string
	OrganizationID string

	ConsumerKey    string
	PrivateKeyFile string

	SessionID string
	Instance  string

	Domain     string
	APIVersion string

	// Optional client certificate pair for mutual TLS.
	CertFile string
	KeyFile  string
}

func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Username:       os.Getenv("SALESFORCE_USERNAME"),
		Password:       os.Getenv("SALESFORCE_PASSWORD"),
		SecurityToken:  os.Getenv("SALESFORCE_SECURITY_TOKEN"),
		OrganizationID: os.Getenv("SALESFORCE_ORGANIZATION_ID"),
		ConsumerKey:    os.Getenv("SALESFORCE_CONSUMER_KEY"),
		PrivateKeyFile: os.Getenv("SALESFORCE_PRIVATE_KEY_FILE"),
		SessionID:      os.Getenv("SALESFORCE_SESSION_ID"),
		Instance:       os.Getenv("SALESFORCE_INSTANCE"),
		Domain:         os.Getenv("SALESFORCE_DOMAIN"),
		APIVersion:     os.Getenv("SALESFORCE_API_VERSION"),
		CertFile:       os.Getenv("SALESFORCE_CERT_FILE"),
		KeyFile:        os.Getenv("SALESFORCE_KEY_FILE"),
	}
	if cfg.Domain == "" {
		cfg.Domain = "login"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Username != "" && c.Password != "" && c.SecurityToken != "":
	case c.Username != "" && c.Password != "" && c.OrganizationID != "":
	case c.Username != "" && c.ConsumerKey != "" && c.PrivateKeyFile != "":
	case c.SessionID != "" && c.Instance != "":
	default:
		return fmt.Errorf("incomplete credentials: provide username+password+token, " +
			"username+password+organization id, username+consumer key+private key, " +
			"or session id+instance")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("SALESFORCE_CERT_FILE and SALESFORCE_KEY_FILE must be set together")
	}
	return nil
}
