package salesforce

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// bulkMaxBatchRecords is the Bulk 1.0 per-batch record ceiling.
const bulkMaxBatchRecords = 10000

// BulkOptions tunes one Bulk 1.0 operation. The zero value uses a batch
// size of 10000, parallel concurrency mode and a 24h poll deadline.
type BulkOptions struct {
	// BatchSize caps records per batch; values above 10000 are clamped.
	BatchSize int
	// UseSerial requests serial concurrency mode for the job.
	UseSerial bool
	// PKChunking enables primary-key chunking for query jobs. "true" or a
	// chunking spec like "chunkSize=50000".
	PKChunking string
	// PollInterval is the initial wait between job status checks.
	PollInterval time.Duration
	// Timeout bounds the total wait for the job; zero means
	// DefaultPollTimeout.
	Timeout time.Duration
}

func (o *BulkOptions) normalize() BulkOptions {
	opts := BulkOptions{}
	if o != nil {
		opts = *o
	}
	if opts.BatchSize <= 0 || opts.BatchSize > bulkMaxBatchRecords {
		opts.BatchSize = bulkMaxBatchRecords
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return opts
}

// BulkObjectClient runs Bulk 1.0 jobs against one object type. Obtain one
// from Client.Bulk.
type BulkObjectClient struct {
	client     *Client
	objectName string
	bulkURL    string
}

type bulkJobInfo struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	StateMessage string `json:"stateMessage"`
}

type bulkBatchInfo struct {
	ID           string `json:"id"`
	JobID        string `json:"jobId"`
	State        string `json:"state"`
	StateMessage string `json:"stateMessage"`
}

// bulkHeaders returns the Bulk 1.0 auth header. The async API ignores the
// REST bearer header and authenticates with X-SFDC-Session instead.
func (b *BulkObjectClient) bulkHeaders() map[string]string {
	return map[string]string{"X-SFDC-Session": b.client.SessionID()}
}

func (b *BulkObjectClient) createJob(ctx context.Context, operation, externalIDField string, opts BulkOptions) (*bulkJobInfo, error) {
	payload := Record{
		"operation":   operation,
		"object":      b.objectName,
		"contentType": "JSON",
	}
	if externalIDField != "" {
		payload["externalIdFieldName"] = externalIDField
	}
	if opts.UseSerial {
		payload["concurrencyMode"] = "Serial"
	}
	headers := b.bulkHeaders()
	if opts.PKChunking != "" {
		headers["Sforce-Enable-PKChunking"] = opts.PKChunking
	}
	var job bulkJobInfo
	if err := b.client.callJSON(ctx, "POST", b.bulkURL+"job", b.objectName, payload, headers, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobStatus fetches the current descriptor of a Bulk 1.0 job.
func (b *BulkObjectClient) JobStatus(ctx context.Context, jobID string) (Record, error) {
	var job Record
	if err := b.client.callJSON(ctx, "GET", b.bulkURL+"job/"+jobID, b.objectName, nil, b.bulkHeaders(), &job); err != nil {
		return nil, err
	}
	return job, nil
}

func (b *BulkObjectClient) closeJob(ctx context.Context, jobID string) error {
	return b.client.callJSON(ctx, "POST", b.bulkURL+"job/"+jobID, b.objectName,
		Record{"state": "Closed"}, b.bulkHeaders(), nil)
}

func (b *BulkObjectClient) addBatch(ctx context.Context, jobID string, body interface{}) (*bulkBatchInfo, error) {
	var batch bulkBatchInfo
	if err := b.client.callJSON(ctx, "POST", b.bulkURL+"job/"+jobID+"/batch", b.objectName, body, b.bulkHeaders(), &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (b *BulkObjectClient) getBatch(ctx context.Context, jobID, batchID string) (*bulkBatchInfo, error) {
	var batch bulkBatchInfo
	if err := b.client.callJSON(ctx, "GET", b.bulkURL+"job/"+jobID+"/batch/"+batchID, b.objectName, nil, b.bulkHeaders(), &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// waitForBatch polls one batch until it reaches a terminal state.
func (b *BulkObjectClient) waitForBatch(ctx context.Context, jobID, batchID string, opts BulkOptions) (*bulkBatchInfo, error) {
	var last *bulkBatchInfo
	err := pollUntil(ctx, opts.PollInterval, 30*time.Second, opts.Timeout, func(ctx context.Context) (bool, error) {
		batch, err := b.getBatch(ctx, jobID, batchID)
		if err != nil {
			return false, err
		}
		last = batch
		switch batch.State {
		case "Completed", "Failed", "NotProcessed":
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}

// batchResults fetches the outcome of one terminal batch. DML batches
// return one result row per submitted record; query batches return a list
// of result-set ids that each resolve to a slice of records, flattened
// here.
func (b *BulkObjectClient) batchResults(ctx context.Context, jobID, batchID, operation string) ([]Record, error) {
	resultURL := b.bulkURL + "job/" + jobID + "/batch/" + batchID + "/result"
	resp, err := b.client.call(ctx, "GET", resultURL, b.objectName, nil, b.bulkHeaders())
	if err != nil {
		return nil, err
	}

	if operation != "query" && operation != "queryAll" {
		var results []Record
		if err := json.Unmarshal(resp.Body, &results); err != nil {
			return nil, fmt.Errorf("failed to decode batch results: %w", err)
		}
		return results, nil
	}

	var resultIDs []string
	if err := json.Unmarshal(resp.Body, &resultIDs); err != nil {
		return nil, fmt.Errorf("failed to decode query result ids: %w", err)
	}
	var records []Record
	for _, resultID := range resultIDs {
		var page []Record
		if err := b.client.callJSON(ctx, "GET", resultURL+"/"+resultID, b.objectName, nil, b.bulkHeaders(), &page); err != nil {
			return nil, err
		}
		records = append(records, page...)
	}
	return records, nil
}

// dmlOperation runs one ingest job: records are split into batches, the
// batches are submitted concurrently, the job is closed, then batches are
// awaited and their per-record results collected in chunk order.
func (b *BulkObjectClient) dmlOperation(ctx context.Context, operation, externalIDField string, records []Record, options *BulkOptions) ([]Record, error) {
	opts := options.normalize()

	job, err := b.createJob(ctx, operation, externalIDField, opts)
	if err != nil {
		return nil, err
	}
	b.client.logger.Debug("Bulk job created",
		zap.String("job_id", job.ID),
		zap.String("operation", operation),
		zap.String("object", b.objectName))

	var chunks [][]Record
	for start := 0; start < len(records); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}

	batchIDs := make([]string, len(chunks))
	submit := pool.New().WithMaxGoroutines(5).WithErrors()
	for i, chunk := range chunks {
		i, chunk := i, chunk
		submit.Go(func() error {
			batch, err := b.addBatch(ctx, job.ID, chunk)
			if err != nil {
				return err
			}
			batchIDs[i] = batch.ID
			return nil
		})
	}
	if err := submit.Wait(); err != nil {
		return nil, err
	}

	if err := b.closeJob(ctx, job.ID); err != nil {
		return nil, err
	}

	perBatch := make([][]Record, len(batchIDs))
	p := pool.New().WithMaxGoroutines(5).WithErrors()
	for i, batchID := range batchIDs {
		i, batchID := i, batchID
		p.Go(func() error {
			if _, err := b.waitForBatch(ctx, job.ID, batchID, opts); err != nil {
				return err
			}
			results, err := b.batchResults(ctx, job.ID, batchID, operation)
			if err != nil {
				return err
			}
			perBatch[i] = results
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	var all []Record
	for _, results := range perBatch {
		all = append(all, results...)
	}
	return all, nil
}

// queryOperation runs one extract job with a single query batch.
func (b *BulkObjectClient) queryOperation(ctx context.Context, operation, query string, options *BulkOptions) ([]Record, error) {
	opts := options.normalize()

	job, err := b.createJob(ctx, operation, "", opts)
	if err != nil {
		return nil, err
	}
	batch, err := b.addBatch(ctx, job.ID, query)
	if err != nil {
		return nil, err
	}
	if err := b.closeJob(ctx, job.ID); err != nil {
		return nil, err
	}

	final, err := b.waitForBatch(ctx, job.ID, batch.ID, opts)
	if err != nil {
		return nil, err
	}
	if final.State == "Failed" {
		return nil, &GeneralError{ResponseError{
			URL:          b.bulkURL + "job/" + job.ID,
			ResourceName: b.objectName,
			Body:         final.StateMessage,
		}}
	}
	return b.batchResults(ctx, job.ID, batch.ID, operation)
}

// Insert creates records and returns one result row per record, in
// submission order.
func (b *BulkObjectClient) Insert(ctx context.Context, records []Record, options *BulkOptions) ([]Record, error) {
	return b.dmlOperation(ctx, "insert", "", records, options)
}

// Update modifies records addressed by their Id field.
func (b *BulkObjectClient) Update(ctx context.Context, records []Record, options *BulkOptions) ([]Record, error) {
	return b.dmlOperation(ctx, "update", "", records, options)
}

// Upsert creates or updates records addressed by externalIDField.
func (b *BulkObjectClient) Upsert(ctx context.Context, records []Record, externalIDField string, options *BulkOptions) ([]Record, error) {
	return b.dmlOperation(ctx, "upsert", externalIDField, records, options)
}

// Delete soft-deletes records; each record needs only its Id field.
func (b *BulkObjectClient) Delete(ctx context.Context, records []Record, options *BulkOptions) ([]Record, error) {
	return b.dmlOperation(ctx, "delete", "", records, options)
}

// HardDelete permanently deletes records, bypassing the recycle bin. The
// profile needs the Bulk API Hard Delete permission.
func (b *BulkObjectClient) HardDelete(ctx context.Context, records []Record, options *BulkOptions) ([]Record, error) {
	return b.dmlOperation(ctx, "hardDelete", "", records, options)
}

// Query runs a SOQL query as a bulk extract and returns all records.
func (b *BulkObjectClient) Query(ctx context.Context, query string, options *BulkOptions) ([]Record, error) {
	return b.queryOperation(ctx, "query", query, options)
}

// QueryAll is Query including soft-deleted and archived records.
func (b *BulkObjectClient) QueryAll(ctx context.Context, query string, options *BulkOptions) ([]Record, error) {
	return b.queryOperation(ctx, "queryAll", query, options)
}
