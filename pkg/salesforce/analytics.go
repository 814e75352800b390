package salesforce

import (
	"context"
	"fmt"
)

// AnalyticsClient wraps the CRM Analytics (Wave) REST endpoints for
// listing assets and triggering data jobs. Obtain one from
// Client.Analytics.
type AnalyticsClient struct {
	client  *Client
	waveURL string
}

// listableResources are the asset collections List accepts.
var listableResources = map[string]struct{}{
	"dashboards":     {},
	"datasets":       {},
	"dataflows":      {},
	"dataflowjobs":   {},
	"dataConnectors": {},
	"folders":        {},
	"lenses":         {},
	"recipes":        {},
	"templates":      {},
}

// List fetches one asset collection, e.g. "datasets" or "recipes". Recipes
// are requested in the R3 format, which is the only format that carries the
// target dataflow id.
func (a *AnalyticsClient) List(ctx context.Context, resource string) (Record, error) {
	if _, ok := listableResources[resource]; !ok {
		return nil, &OperationError{Message: fmt.Sprintf("cannot list analytics resource %q", resource)}
	}
	callURL := a.waveURL + resource
	if resource == "recipes" {
		callURL += "?format=R3"
	}
	var result Record
	if err := a.client.callJSON(ctx, "GET", callURL, resource, nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Get fetches one asset by id.
func (a *AnalyticsClient) Get(ctx context.Context, resource, id string) (Record, error) {
	if _, ok := listableResources[resource]; !ok {
		return nil, &OperationError{Message: fmt.Sprintf("cannot get analytics resource %q", resource)}
	}
	var result Record
	if err := a.client.callJSON(ctx, "GET", a.waveURL+resource+"/"+id, resource, nil, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// startDataflow queues one dataflow for execution.
func (a *AnalyticsClient) startDataflow(ctx context.Context, dataflowID string) (Record, error) {
	body := Record{"dataflowId": dataflowID, "command": "start"}
	var result Record
	if err := a.client.callJSON(ctx, "POST", a.waveURL+"dataflowjobs", "dataflowjobs", body, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Run triggers execution of one data asset. Data connectors run an ingest,
// dataflows are queued as dataflow jobs, and recipes run through their
// target dataflow.
func (a *AnalyticsClient) Run(ctx context.Context, resource, id string) (Record, error) {
	switch resource {
	case "dataConnectors":
		var result Record
		callURL := a.waveURL + "dataConnectors/" + id + "/ingest"
		if err := a.client.callJSON(ctx, "POST", callURL, resource, Record{}, nil, &result); err != nil {
			return nil, err
		}
		return result, nil

	case "dataflows":
		return a.startDataflow(ctx, id)

	case "recipes":
		recipe, err := a.client.Restful(ctx, "wave/recipes/"+id, map[string]string{"format": "R3"}, "GET", nil)
		if err != nil {
			return nil, err
		}
		recipeRecord, _ := recipe.(map[string]interface{})
		targetDataflowID, _ := recipeRecord["targetDataflowId"].(string)
		if targetDataflowID == "" {
			return nil, &OperationError{Message: fmt.Sprintf("recipe %s has no target dataflow", id)}
		}
		return a.startDataflow(ctx, targetDataflowID)

	default:
		return nil, &OperationError{Message: fmt.Sprintf("cannot run analytics resource %q", resource)}
	}
}
