package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	sfhttp "github.com/natserract/salesforce/pkg/http"
)

const defaultClientIDPrefix = "RestForce"

// Credentials selects and parameterizes a login flow. Exactly one of the
// following combinations must be populated:
//
//   - Username, Password, SecurityToken: SOAP password login
//   - Username, Password, OrganizationID: SOAP IP-filtering login
//   - Username, ConsumerKey, PrivateKey or PrivateKeyFile: OAuth JWT bearer
//   - SessionID and Instance or InstanceURL: direct session, no login call
type Credentials struct {
	Username       string
	Password       string
	SecurityToken  string
	OrganizationID string

	ConsumerKey    string
	PrivateKey     []byte
	PrivateKeyFile string

	SessionID   string
	Instance    string
	InstanceURL string

	// Domain is the login domain: "login", "test", or a My Domain host
	// prefix. Defaults to "login".
	Domain string
	// ClientID is appended to the call-options client identifier.
	ClientID string
	// Version is the Salesforce API version, e.g. "52.0".
	Version string
}

const soapTokenLoginEnvelope = `<?xml version="1.0" encoding="utf-8" ?>
<env:Envelope
        xmlns:xsd="http://www.w3.org/2001/XMLSchema"
        xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
        xmlns:env="http://schemas.xmlsoap.org/soap/envelope/"
        xmlns:urn="urn:partner.soap.sforce.com">
    <env:Header>
        <urn:CallOptions>
            <urn:client>%s</urn:client>
            <urn:defaultNamespace>sf</urn:defaultNamespace>
        </urn:CallOptions>
    </env:Header>
    <env:Body>
        <n1:login xmlns:n1="urn:partner.soap.sforce.com">
            <n1:username>%s</n1:username>
            <n1:password>%s%s</n1:password>
        </n1:login>
    </env:Body>
</env:Envelope>`

const soapOrgIDLoginEnvelope = `<?xml version="1.0" encoding="utf-8" ?>
<soapenv:Envelope
        xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"
        xmlns:urn="urn:partner.soap.sforce.com">
    <soapenv:Header>
        <urn:CallOptions>
            <urn:client>%s</urn:client>
            <urn:defaultNamespace>sf</urn:defaultNamespace>
        </urn:CallOptions>
        <urn:LoginScopeHeader>
            <urn:organizationId>%s</urn:organizationId>
        </urn:LoginScopeHeader>
    </soapenv:Header>
    <soapenv:Body>
        <urn:login>
            <urn:username>%s</urn:username>
            <urn:password>%s</urn:password>
        </urn:login>
    </soapenv:Body>
</soapenv:Envelope>`

// Login exchanges the credentials for a Session. No retry is attempted:
// callers refresh an expired session by invoking Login again.
func Login(ctx context.Context, httpClient *sfhttp.Client, creds Credentials, logger *zap.Logger) (*Session, error) {
	if creds.Domain == "" {
		creds.Domain = "login"
	}
	if creds.Version == "" {
		creds.Version = DefaultAPIVersion
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch {
	case creds.SessionID != "" && (creds.Instance != "" || creds.InstanceURL != ""):
		instance := creds.Instance
		if creds.InstanceURL != "" {
			instance = instanceFromInstanceURL(creds.InstanceURL)
		}
		return &Session{
			ID:       creds.SessionID,
			Instance: instance,
			Version:  creds.Version,
			AuthType: AuthTypeDirect,
		}, nil

	case creds.Username != "" && creds.Password != "" && creds.SecurityToken != "":
		body := fmt.Sprintf(soapTokenLoginEnvelope,
			callOptionsClient(creds.ClientID),
			html.EscapeString(creds.Username),
			html.EscapeString(creds.Password),
			creds.SecurityToken)
		return soapLogin(ctx, httpClient, creds, body, AuthTypePassword, logger)

	case creds.Username != "" && creds.Password != "" && creds.OrganizationID != "":
		body := fmt.Sprintf(soapOrgIDLoginEnvelope,
			callOptionsClient(creds.ClientID),
			creds.OrganizationID,
			html.EscapeString(creds.Username),
			html.EscapeString(creds.Password))
		return soapLogin(ctx, httpClient, creds, body, AuthTypeIPFilter, logger)

	case creds.Username != "" && creds.ConsumerKey != "" && (len(creds.PrivateKey) > 0 || creds.PrivateKeyFile != ""):
		return jwtLogin(ctx, httpClient, creds, logger)

	default:
		return nil, &AuthenticationError{
			Code:    "INVALID AUTH",
			Message: "you must submit either a security token or organizationId for authentication",
		}
	}
}

func callOptionsClient(clientID string) string {
	if clientID != "" {
		return defaultClientIDPrefix + "/" + clientID
	}
	return defaultClientIDPrefix
}

func soapLogin(ctx context.Context, httpClient *sfhttp.Client, creds Credentials, envelope string, authType AuthType, logger *zap.Logger) (*Session, error) {
	soapURL := fmt.Sprintf("https://%s.salesforce.com/services/Soap/u/%s", creds.Domain, creds.Version)
	logger.Debug("Posting SOAP login request", zap.String("url", soapURL))

	headers := map[string]string{
		"Content-Type": "text/xml; charset=UTF-8",
		"SOAPAction":   "login",
	}
	resp, err := httpClient.Post(ctx, soapURL, headers, envelope)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}

	if resp.StatusCode != 200 {
		return nil, &AuthenticationError{
			Code:    xmlElementValue(resp.Body, "sf:exceptionCode"),
			Message: xmlElementValue(resp.Body, "sf:exceptionMessage"),
		}
	}

	sessionID := xmlElementValue(resp.Body, "sessionId")
	serverURL := xmlElementValue(resp.Body, "serverUrl")
	if sessionID == "" || serverURL == "" {
		return nil, &AuthenticationError{
			Code:    "MALFORMED_RESPONSE",
			Message: "login response is missing sessionId or serverUrl",
		}
	}

	return &Session{
		ID:       sessionID,
		Instance: instanceFromServerURL(serverURL),
		Version:  creds.Version,
		AuthType: authType,
	}, nil
}

func jwtLogin(ctx context.Context, httpClient *sfhttp.Client, creds Credentials, logger *zap.Logger) (*Session, error) {
	keyPEM := creds.PrivateKey
	if len(keyPEM) == 0 {
		var err error
		keyPEM, err = os.ReadFile(creds.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key file: %w", err)
		}
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	expiration := time.Now().UTC().Add(3 * time.Minute)
	claims := jwt.MapClaims{
		"iss": creds.ConsumerKey,
		"sub": creds.Username,
		"aud": fmt.Sprintf("https://%s.salesforce.com", creds.Domain),
		"exp": strconv.FormatInt(expiration.Unix(), 10),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign jwt assertion: %w", err)
	}

	tokenURL := fmt.Sprintf("https://%s.salesforce.com/services/oauth2/token", creds.Domain)
	logger.Debug("Posting OAuth token request", zap.String("url", tokenURL))

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)
	headers := map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	}
	resp, err := httpClient.Post(ctx, tokenURL, headers, form)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	var tokenResp struct {
		AccessToken      string `json:"access_token"`
		InstanceURL      string `json:"instance_url"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(resp.Body, &tokenResp); err != nil {
		return nil, &AuthenticationError{
			Code:    strconv.Itoa(resp.StatusCode),
			Message: string(resp.Body),
		}
	}
	if resp.StatusCode != 200 {
		return nil, &AuthenticationError{
			Code:    tokenResp.Error,
			Message: tokenResp.ErrorDescription,
		}
	}

	instance := strings.TrimPrefix(strings.TrimPrefix(tokenResp.InstanceURL, "http://"), "https://")
	return &Session{
		ID:       tokenResp.AccessToken,
		Instance: instance,
		Version:  creds.Version,
		AuthType: AuthTypeJWTBearer,
	}, nil
}
