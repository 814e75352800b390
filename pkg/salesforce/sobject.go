package salesforce

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	sfhttp "github.com/natserract/salesforce/pkg/http"
	"github.com/natserract/salesforce/pkg/soql"
)

// SObjectClient performs record-level operations against one object type.
// Obtain one from Client.SObject; a zero SObjectClient is not usable.
type SObjectClient struct {
	client  *Client
	name    string
	baseURL string
}

// Name returns the object type this client addresses.
func (s *SObjectClient) Name() string { return s.name }

// Metadata returns the object-level metadata summary.
func (s *SObjectClient) Metadata(ctx context.Context) (Record, error) {
	var result Record
	if err := s.client.callJSON(ctx, "GET", s.baseURL, s.name, nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Describe returns the full field-level describe for the object type.
func (s *SObjectClient) Describe(ctx context.Context) (Record, error) {
	var result Record
	if err := s.client.callJSON(ctx, "GET", s.baseURL+"describe", s.name, nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DescribeLayout returns the layout description for one layout id.
func (s *SObjectClient) DescribeLayout(ctx context.Context, layoutID string) (Record, error) {
	var result Record
	if err := s.client.callJSON(ctx, "GET", s.baseURL+"describe/layouts/"+layoutID, s.name, nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Get fetches one record by Salesforce id.
func (s *SObjectClient) Get(ctx context.Context, recordID string) (Record, error) {
	var result Record
	if err := s.client.callJSON(ctx, "GET", s.baseURL+recordID, s.name, nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetByCustomID fetches one record addressed by an external ID field. The
// value is percent-encoded into the path; a value matching more than one
// record surfaces as a MoreThanOneRecordError.
func (s *SObjectClient) GetByCustomID(ctx context.Context, field, value string) (Record, error) {
	var result Record
	callURL := s.baseURL + soql.FormatExternalID(field, value)
	if err := s.client.callJSON(ctx, "GET", callURL, s.name, nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Create inserts a record and returns the server's creation result, which
// carries the new id on success.
func (s *SObjectClient) Create(ctx context.Context, fields Record) (Record, error) {
	var result Record
	if err := s.client.callJSON(ctx, "POST", s.baseURL, s.name, fields, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Update patches a record in place and returns the HTTP status code,
// normally 204.
func (s *SObjectClient) Update(ctx context.Context, recordID string, fields Record) (int, error) {
	resp, err := s.client.call(ctx, "PATCH", s.baseURL+recordID, s.name, fields, nil)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

// UpdateRaw is Update returning the full response instead of the status.
func (s *SObjectClient) UpdateRaw(ctx context.Context, recordID string, fields Record) (*sfhttp.Response, error) {
	return s.client.call(ctx, "PATCH", s.baseURL+recordID, s.name, fields, nil)
}

// Upsert updates or inserts a record addressed by an external ID pair such
// as "customExtIdField__c/11999". It returns the HTTP status code: 204 for
// an update, 201 for an insert.
func (s *SObjectClient) Upsert(ctx context.Context, externalIDPair string, fields Record) (int, error) {
	resp, err := s.client.call(ctx, "PATCH", s.baseURL+externalIDPair, s.name, fields, nil)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

// UpsertResult is like Upsert but decodes the response body, which on an
// insert carries the new record id.
func (s *SObjectClient) UpsertResult(ctx context.Context, externalIDPair string, fields Record) (Record, error) {
	var result Record
	if err := s.client.callJSON(ctx, "PATCH", s.baseURL+externalIDPair, s.name, fields, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a record and returns the HTTP status code, normally 204.
func (s *SObjectClient) Delete(ctx context.Context, recordID string) (int, error) {
	resp, err := s.client.call(ctx, "DELETE", s.baseURL+recordID, s.name, nil, nil)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

// DeleteRaw is Delete returning the full response instead of the status.
func (s *SObjectClient) DeleteRaw(ctx context.Context, recordID string) (*sfhttp.Response, error) {
	return s.client.call(ctx, "DELETE", s.baseURL+recordID, s.name, nil, nil)
}

// Deleted lists records deleted in the given window. Timestamps are encoded
// with fully escaped colons, which the changed-records endpoints require.
func (s *SObjectClient) Deleted(ctx context.Context, start, end time.Time) (Record, error) {
	callURL := fmt.Sprintf("%sdeleted/?start=%s&end=%s",
		s.baseURL, soql.EncodeTimestamp(start), soql.EncodeTimestamp(end))
	var result Record
	if err := s.client.callJSON(ctx, "GET", callURL, s.name, nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Updated lists records updated in the given window.
func (s *SObjectClient) Updated(ctx context.Context, start, end time.Time) (Record, error) {
	callURL := fmt.Sprintf("%supdated/?start=%s&end=%s",
		s.baseURL, soql.EncodeTimestamp(start), soql.EncodeTimestamp(end))
	var result Record
	if err := s.client.callJSON(ctx, "GET", callURL, s.name, nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// UploadBase64 creates a record whose base64Field carries the file's
// contents, e.g. a ContentVersion Body. Extra fields ride along in fields.
func (s *SObjectClient) UploadBase64(ctx context.Context, filePath, base64Field string, fields Record) (Record, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload file: %w", err)
	}
	body := Record{}
	for k, v := range fields {
		body[k] = v
	}
	body[base64Field] = base64.StdEncoding.EncodeToString(contents)
	var result Record
	if err := s.client.callJSON(ctx, "POST", s.baseURL, s.name, body, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateBase64 replaces the base64Field of an existing record with the
// file's contents and returns the HTTP status code.
func (s *SObjectClient) UpdateBase64(ctx context.Context, recordID, filePath, base64Field string, fields Record) (int, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read upload file: %w", err)
	}
	body := Record{}
	for k, v := range fields {
		body[k] = v
	}
	body[base64Field] = base64.StdEncoding.EncodeToString(contents)
	resp, err := s.client.call(ctx, "PATCH", s.baseURL+recordID, s.name, body, nil)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

// GetBase64 downloads the raw binary contents of a base64 field.
func (s *SObjectClient) GetBase64(ctx context.Context, recordID, base64Field string) ([]byte, error) {
	resp, err := s.client.call(ctx, "GET", s.baseURL+recordID+"/"+base64Field, s.name, nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
