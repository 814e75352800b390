package salesforce

import "fmt"

// ResponseError carries the request context of a non-2xx Salesforce
// response. It is embedded in every status-mapped error type so callers can
// match the generic shape with errors.As(*ResponseError) via the concrete
// kinds below.
type ResponseError struct {
	URL          string
	StatusCode   int
	ResourceName string
	Body         string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("unknown error occurred for %s. Response content: %s", e.URL, e.Body)
}

// MoreThanOneRecordError (status 300) is returned when an external ID exists
// in more than one record. The body contains the list of matching records.
type MoreThanOneRecordError struct{ ResponseError }

func (e *MoreThanOneRecordError) Error() string {
	return fmt.Sprintf("more than one record for %s. Response content: %s", e.URL, e.Body)
}

// MalformedRequestError (status 400) is returned when the request couldn't
// be understood, usually because the JSON or XML body contains an error.
type MalformedRequestError struct{ ResponseError }

func (e *MalformedRequestError) Error() string {
	return fmt.Sprintf("malformed request %s. Response content: %s", e.URL, e.Body)
}

// ExpiredSessionError (status 401) is returned when the session ID or OAuth
// token used has expired or is invalid.
type ExpiredSessionError struct{ ResponseError }

func (e *ExpiredSessionError) Error() string {
	return fmt.Sprintf("expired session for %s. Response content: %s", e.URL, e.Body)
}

// RefusedRequestError (status 403) is returned when the request has been
// refused. Verify that the logged-in user has appropriate permissions.
type RefusedRequestError struct{ ResponseError }

func (e *RefusedRequestError) Error() string {
	return fmt.Sprintf("request refused for %s. Response content: %s", e.URL, e.Body)
}

// ResourceNotFoundError (status 404) is returned when the requested resource
// couldn't be found.
type ResourceNotFoundError struct{ ResponseError }

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("resource %s not found. Response content: %s", e.ResourceName, e.Body)
}

// GeneralError is any other response with status >= 300 that doesn't match a
// documented case. Inspect the body manually.
type GeneralError struct{ ResponseError }

func (e *GeneralError) Error() string {
	return fmt.Sprintf("error code %d. Response content: %s", e.StatusCode, e.Body)
}

// AuthenticationError indicates that a login flow failed. Code and Message
// come from the provider response (SOAP fault or OAuth error body).
type AuthenticationError struct {
	Code    string
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// OperationError reports an asynchronous job failure or timeout.
type OperationError struct {
	Message string
}

func (e *OperationError) Error() string { return e.Message }

// BulkV2LoadError reports a Bulk 2.0 ingest failure: a local validation
// problem (missing file, oversize payload), a rejected upload, or a job
// that finished Failed or Aborted.
type BulkV2LoadError struct {
	Message string
}

func (e *BulkV2LoadError) Error() string { return e.Message }

// BulkV2ExtractError reports a local Bulk 2.0 query validation failure
// (e.g. a query job without a query).
type BulkV2ExtractError struct {
	Message string
}

func (e *BulkV2ExtractError) Error() string { return e.Message }

// statusError maps a non-2xx response to exactly one error kind: 300, 400,
// 401, 403 and 404 have dedicated types, everything else is a GeneralError.
func statusError(url string, status int, resourceName string, body []byte) error {
	re := ResponseError{
		URL:          url,
		StatusCode:   status,
		ResourceName: resourceName,
		Body:         string(body),
	}
	switch status {
	case 300:
		return &MoreThanOneRecordError{re}
	case 400:
		return &MalformedRequestError{re}
	case 401:
		return &ExpiredSessionError{re}
	case 403:
		return &RefusedRequestError{re}
	case 404:
		return &ResourceNotFoundError{re}
	default:
		return &GeneralError{re}
	}
}
