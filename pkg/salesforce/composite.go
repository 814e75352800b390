package salesforce

import (
	"context"
	"strings"

	sfhttp "github.com/natserract/salesforce/pkg/http"
)

// CompositeClient wraps the composite sObject collections endpoints, which
// batch up to 200 records into one round trip. Obtain one from
// Client.Composite.
type CompositeClient struct {
	client       *Client
	compositeURL string
}

// Create inserts up to 200 records in one call. Each record must carry an
// attributes.type entry naming its object. With allOrNone, any failure
// rolls back the whole batch; otherwise per-record outcomes are returned
// independently.
func (cc *CompositeClient) Create(ctx context.Context, records []Record, allOrNone bool) ([]Record, error) {
	body := Record{"allOrNone": allOrNone, "records": records}
	var results []Record
	if err := cc.client.callJSON(ctx, "POST", cc.compositeURL+"sobjects", "sobjects", body, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Update modifies up to 200 records addressed by their Id field.
func (cc *CompositeClient) Update(ctx context.Context, records []Record, allOrNone bool) ([]Record, error) {
	body := Record{"allOrNone": allOrNone, "records": records}
	var results []Record
	if err := cc.client.callJSON(ctx, "PATCH", cc.compositeURL+"sobjects", "sobjects", body, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Upsert creates or updates records of one object type addressed by an
// external ID field. Every record must carry the external ID field.
func (cc *CompositeClient) Upsert(ctx context.Context, objectName, externalIDField string, records []Record, allOrNone bool) ([]Record, error) {
	body := Record{"allOrNone": allOrNone, "records": records}
	callURL := cc.compositeURL + "sobjects/" + objectName + "/" + externalIDField
	var results []Record
	if err := cc.client.callJSON(ctx, "PATCH", callURL, objectName, body, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Delete removes up to 200 records by id in one call. The id list rides in
// the query string, comma-joined and percent-encoded.
func (cc *CompositeClient) Delete(ctx context.Context, ids []string, allOrNone bool) ([]Record, error) {
	params := map[string]string{"ids": strings.Join(ids, ",")}
	if allOrNone {
		params["allOrNone"] = "true"
	}
	callURL, err := sfhttp.BuildURL(cc.compositeURL, "sobjects", params)
	if err != nil {
		return nil, err
	}
	var results []Record
	if err := cc.client.callJSON(ctx, "DELETE", callURL, "sobjects", nil, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Retrieve fetches up to 800 records of one object type by id, returning
// only the requested fields. Missing records come back as null entries.
func (cc *CompositeClient) Retrieve(ctx context.Context, objectName string, ids, fields []string) ([]Record, error) {
	body := Record{"ids": ids, "fields": fields}
	callURL := cc.compositeURL + "sobjects/" + objectName
	var results []Record
	if err := cc.client.callJSON(ctx, "POST", callURL, objectName, body, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// TreeCreate inserts a tree of parent and child records in one call. Each
// record needs attributes.type and attributes.referenceId; children nest
// under their parent's child-relationship name.
func (cc *CompositeClient) TreeCreate(ctx context.Context, objectName string, records []Record) (Record, error) {
	body := Record{"records": records}
	callURL := cc.compositeURL + "tree/" + objectName
	var result Record
	if err := cc.client.callJSON(ctx, "POST", callURL, objectName, body, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}
