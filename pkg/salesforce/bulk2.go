package salesforce

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	sfhttp "github.com/natserract/salesforce/pkg/http"
)

// Bulk 2.0 ingest limits. A single upload request may not exceed 100MB of
// CSV; the default chunking stays well below that.
const (
	bulk2MaxFileSize       = 100 * 1024 * 1024
	bulk2DefaultMaxRecords = 10000
	bulk2DefaultMaxBytes   = 10000000
	bulk2DefaultPageSize   = 10000
)

// Bulk2JobState is the server-side lifecycle state of a Bulk 2.0 job.
type Bulk2JobState string

const (
	JobStateOpen           Bulk2JobState = "Open"
	JobStateUploadComplete Bulk2JobState = "UploadComplete"
	JobStateInProgress     Bulk2JobState = "InProgress"
	JobStateJobComplete    Bulk2JobState = "JobComplete"
	JobStateAborted        Bulk2JobState = "Aborted"
	JobStateFailed         Bulk2JobState = "Failed"
)

// Bulk2Job is the job descriptor returned by the ingest and query job
// endpoints.
type Bulk2Job struct {
	ID                     string        `json:"id"`
	Object                 string        `json:"object"`
	Operation              string        `json:"operation"`
	State                  Bulk2JobState `json:"state"`
	ContentURL             string        `json:"contentUrl"`
	ErrorMessage           string        `json:"errorMessage"`
	NumberRecordsProcessed int64         `json:"numberRecordsProcessed"`
	NumberRecordsFailed    int64         `json:"numberRecordsFailed"`
}

// IngestResult summarizes one finished ingest job.
type IngestResult struct {
	JobID                  string
	NumberRecordsProcessed int64
	NumberRecordsFailed    int64
	NumberRecordsTotal     int64
}

// Bulk2Options tunes Bulk 2.0 operations. The zero value uses comma
// delimiting, LF line endings, 10000-record/10MB upload chunks, one upload
// at a time and a 24h poll deadline.
type Bulk2Options struct {
	ColumnDelimiter ColumnDelimiter
	LineEnding      LineEnding
	// ChunkMaxRecords and ChunkMaxBytes bound one upload chunk.
	ChunkMaxRecords int
	ChunkMaxBytes   int
	// Concurrency is the number of chunk jobs run in parallel.
	Concurrency int
	// PageSize is the maxRecords hint for query result pages.
	PageSize     int
	PollInterval time.Duration
	Timeout      time.Duration
}

func (o *Bulk2Options) normalize() Bulk2Options {
	opts := Bulk2Options{}
	if o != nil {
		opts = *o
	}
	if opts.ColumnDelimiter == "" {
		opts.ColumnDelimiter = DelimiterComma
	}
	if opts.LineEnding == "" {
		opts.LineEnding = LineEndingLF
	}
	if opts.ChunkMaxRecords <= 0 {
		opts.ChunkMaxRecords = bulk2DefaultMaxRecords
	}
	if opts.ChunkMaxBytes <= 0 || opts.ChunkMaxBytes > bulk2MaxFileSize {
		opts.ChunkMaxBytes = bulk2DefaultMaxBytes
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = bulk2DefaultPageSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return opts
}

// Bulk2ObjectClient runs Bulk 2.0 jobs against one object type. Obtain one
// from Client.Bulk2.
type Bulk2ObjectClient struct {
	client     *Client
	objectName string
	bulk2URL   string
}

func (b *Bulk2ObjectClient) createIngestJob(ctx context.Context, operation, externalIDField string, opts Bulk2Options) (*Bulk2Job, error) {
	payload := Record{
		"object":          b.objectName,
		"operation":       operation,
		"contentType":     "CSV",
		"columnDelimiter": string(opts.ColumnDelimiter),
		"lineEnding":      string(opts.LineEnding),
	}
	if externalIDField != "" {
		payload["externalIdFieldName"] = externalIDField
	}
	var job Bulk2Job
	if err := b.client.callJSON(ctx, "POST", b.bulk2URL+"ingest", b.objectName, payload, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (b *Bulk2ObjectClient) uploadChunk(ctx context.Context, jobID, csvChunk string) error {
	headers := map[string]string{
		"Content-Type": "text/csv",
		"Accept":       "application/json",
	}
	resp, err := b.client.call(ctx, "PUT", b.bulk2URL+"ingest/"+jobID+"/batches", b.objectName, csvChunk, headers)
	if err != nil {
		return err
	}
	if resp.StatusCode != 201 {
		return &BulkV2LoadError{Message: fmt.Sprintf(
			"failed to upload job data. Response content: %s", string(resp.Body))}
	}
	return nil
}

func (b *Bulk2ObjectClient) setIngestState(ctx context.Context, jobID string, state Bulk2JobState) error {
	return b.client.callJSON(ctx, "PATCH", b.bulk2URL+"ingest/"+jobID, b.objectName,
		Record{"state": state}, nil, nil)
}

// AbortIngestJob moves an ingest job to Aborted.
func (b *Bulk2ObjectClient) AbortIngestJob(ctx context.Context, jobID string) error {
	return b.setIngestState(ctx, jobID, JobStateAborted)
}

// DeleteIngestJob removes a finished or aborted ingest job.
func (b *Bulk2ObjectClient) DeleteIngestJob(ctx context.Context, jobID string) error {
	return b.client.callJSON(ctx, "DELETE", b.bulk2URL+"ingest/"+jobID, b.objectName, nil, nil, nil)
}

// GetIngestJob fetches the current descriptor of an ingest job.
func (b *Bulk2ObjectClient) GetIngestJob(ctx context.Context, jobID string) (*Bulk2Job, error) {
	var job Bulk2Job
	if err := b.client.callJSON(ctx, "GET", b.bulk2URL+"ingest/"+jobID, b.objectName, nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// waitForIngest polls an ingest job until JobComplete. A job that lands on
// Failed or Aborted is a load error carrying the server's errorMessage.
func (b *Bulk2ObjectClient) waitForIngest(ctx context.Context, jobID, operation string, opts Bulk2Options) (*Bulk2Job, error) {
	var last *Bulk2Job
	err := pollUntil(ctx, opts.PollInterval, time.Minute, opts.Timeout, func(ctx context.Context) (bool, error) {
		job, err := b.GetIngestJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		last = job
		switch job.State {
		case JobStateJobComplete:
			return true, nil
		case JobStateFailed, JobStateAborted:
			return false, &BulkV2LoadError{Message: fmt.Sprintf(
				"%s job %s: %s", operation, job.State, job.ErrorMessage)}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}

// abortUnfinishedJob moves a job that never reached JobComplete to Aborted.
// Best effort: already-aborted jobs are left alone and abort failures are
// logged, never returned.
func (b *Bulk2ObjectClient) abortUnfinishedJob(ctx context.Context, jobID string) {
	job, err := b.GetIngestJob(ctx, jobID)
	if err != nil {
		b.client.logger.Warn("Failed to fetch ingest job for abort",
			zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job.State == JobStateJobComplete || job.State == JobStateAborted {
		return
	}
	if err := b.AbortIngestJob(ctx, jobID); err != nil {
		b.client.logger.Warn("Failed to abort ingest job",
			zap.String("job_id", jobID), zap.Error(err))
	}
}

// ingestChunk runs the full lifecycle of one upload chunk: create job,
// upload CSV, mark UploadComplete, await JobComplete. Any failure after job
// creation best-effort aborts the job before returning the error.
func (b *Bulk2ObjectClient) ingestChunk(ctx context.Context, operation, externalIDField, csvChunk string, opts Bulk2Options) (*IngestResult, error) {
	job, err := b.createIngestJob(ctx, operation, externalIDField, opts)
	if err != nil {
		return nil, err
	}
	b.client.logger.Debug("Bulk 2.0 ingest job created",
		zap.String("job_id", job.ID),
		zap.String("operation", operation),
		zap.String("object", b.objectName))

	result, err := b.runIngest(ctx, job.ID, operation, csvChunk, opts)
	if err != nil {
		b.abortUnfinishedJob(ctx, job.ID)
		return nil, err
	}
	return result, nil
}

func (b *Bulk2ObjectClient) runIngest(ctx context.Context, jobID, operation, csvChunk string, opts Bulk2Options) (*IngestResult, error) {
	if err := b.uploadChunk(ctx, jobID, csvChunk); err != nil {
		return nil, err
	}
	if err := b.setIngestState(ctx, jobID, JobStateUploadComplete); err != nil {
		return nil, err
	}

	final, err := b.waitForIngest(ctx, jobID, operation, opts)
	if err != nil {
		return nil, err
	}
	return &IngestResult{
		JobID:                  final.ID,
		NumberRecordsProcessed: final.NumberRecordsProcessed,
		NumberRecordsFailed:    final.NumberRecordsFailed,
		NumberRecordsTotal:     final.NumberRecordsProcessed + final.NumberRecordsFailed,
	}, nil
}

// ingest splits the CSV into chunks and runs one job per chunk, at most
// opts.Concurrency at a time. Results come back in chunk order.
func (b *Bulk2ObjectClient) ingest(ctx context.Context, operation, externalIDField, csvData string, options *Bulk2Options) ([]IngestResult, error) {
	opts := options.normalize()
	chunks, err := splitCSV(csvData, opts.LineEnding, opts.ChunkMaxRecords, opts.ChunkMaxBytes)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, &BulkV2LoadError{Message: "no data provided for ingest"}
	}

	results := make([]*IngestResult, len(chunks))
	p := pool.New().WithMaxGoroutines(opts.Concurrency).WithErrors()
	for i, chunk := range chunks {
		i, chunk := i, chunk
		p.Go(func() error {
			result, err := b.ingestChunk(ctx, operation, externalIDField, chunk, opts)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	out := make([]IngestResult, len(results))
	for i, r := range results {
		out[i] = *r
	}
	return out, nil
}

func (b *Bulk2ObjectClient) ingestRecords(ctx context.Context, operation, externalIDField string, records []Record, options *Bulk2Options) ([]IngestResult, error) {
	opts := options.normalize()
	csvData, err := recordsToCSV(records, opts.ColumnDelimiter, opts.LineEnding)
	if err != nil {
		return nil, err
	}
	return b.ingest(ctx, operation, externalIDField, csvData, &opts)
}

// validateIDOnly enforces that delete payloads carry exactly the Id column.
func validateIDOnly(records []Record) error {
	for _, record := range records {
		if len(record) != 1 {
			return &BulkV2LoadError{Message: "data should only contain the Id column"}
		}
		if _, ok := record["Id"]; !ok {
			return &BulkV2LoadError{Message: "data should only contain the Id column"}
		}
	}
	return nil
}

// Insert loads records with the insert operation and returns one result per
// upload chunk.
func (b *Bulk2ObjectClient) Insert(ctx context.Context, records []Record, options *Bulk2Options) ([]IngestResult, error) {
	return b.ingestRecords(ctx, "insert", "", records, options)
}

// Update loads records addressed by their Id field.
func (b *Bulk2ObjectClient) Update(ctx context.Context, records []Record, options *Bulk2Options) ([]IngestResult, error) {
	return b.ingestRecords(ctx, "update", "", records, options)
}

// Upsert loads records addressed by externalIDField.
func (b *Bulk2ObjectClient) Upsert(ctx context.Context, records []Record, externalIDField string, options *Bulk2Options) ([]IngestResult, error) {
	return b.ingestRecords(ctx, "upsert", externalIDField, records, options)
}

// Delete soft-deletes records. Each record must carry exactly the Id field.
func (b *Bulk2ObjectClient) Delete(ctx context.Context, records []Record, options *Bulk2Options) ([]IngestResult, error) {
	if err := validateIDOnly(records); err != nil {
		return nil, err
	}
	return b.ingestRecords(ctx, "delete", "", records, options)
}

// HardDelete permanently deletes records, bypassing the recycle bin.
func (b *Bulk2ObjectClient) HardDelete(ctx context.Context, records []Record, options *Bulk2Options) ([]IngestResult, error) {
	if err := validateIDOnly(records); err != nil {
		return nil, err
	}
	return b.ingestRecords(ctx, "hardDelete", "", records, options)
}

// InsertCSV loads an already rendered CSV file with the insert operation.
func (b *Bulk2ObjectClient) InsertCSV(ctx context.Context, csvPath string, options *Bulk2Options) ([]IngestResult, error) {
	contents, err := os.ReadFile(csvPath)
	if err != nil {
		return nil, &BulkV2LoadError{Message: fmt.Sprintf("cannot read csv file: %v", err)}
	}
	return b.ingest(ctx, "insert", "", string(contents), options)
}

// query creates a query job, awaits completion and pages the CSV result set
// via the Sforce-Locator cursor.
func (b *Bulk2ObjectClient) query(ctx context.Context, operation, query string, options *Bulk2Options) ([][]byte, error) {
	if query == "" {
		return nil, &BulkV2ExtractError{Message: "query is required for a query job"}
	}
	opts := options.normalize()

	payload := Record{
		"operation":       operation,
		"query":           query,
		"columnDelimiter": string(opts.ColumnDelimiter),
		"lineEnding":      string(opts.LineEnding),
	}
	var job Bulk2Job
	if err := b.client.callJSON(ctx, "POST", b.bulk2URL+"query", b.objectName, payload, nil, &job); err != nil {
		return nil, err
	}

	err := pollUntil(ctx, opts.PollInterval, time.Minute, opts.Timeout, func(ctx context.Context) (bool, error) {
		var current Bulk2Job
		if err := b.client.callJSON(ctx, "GET", b.bulk2URL+"query/"+job.ID, b.objectName, nil, nil, &current); err != nil {
			return false, err
		}
		switch current.State {
		case JobStateJobComplete:
			return true, nil
		case JobStateFailed, JobStateAborted:
			return false, &OperationError{Message: fmt.Sprintf(
				"%s job %s: %s", operation, current.State, current.ErrorMessage)}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	var pages [][]byte
	locator := ""
	for {
		params := map[string]string{"maxRecords": fmt.Sprint(opts.PageSize)}
		if locator != "" {
			params["locator"] = locator
		}
		pageURL, err := sfhttp.BuildURL(b.bulk2URL, "query/"+job.ID+"/results", params)
		if err != nil {
			return nil, err
		}
		resp, err := b.client.call(ctx, "GET", pageURL, b.objectName, nil, map[string]string{"Accept": "text/csv"})
		if err != nil {
			return nil, err
		}
		pages = append(pages, filterNullBytes(resp.Body))

		locator = resp.Headers.Get("Sforce-Locator")
		if locator == "" || locator == "null" {
			return pages, nil
		}
	}
}

// Query runs a SOQL query as a Bulk 2.0 extract and returns the raw CSV
// pages. Each page is a standalone CSV document with its own header row.
func (b *Bulk2ObjectClient) Query(ctx context.Context, query string, options *Bulk2Options) ([][]byte, error) {
	return b.query(ctx, "query", query, options)
}

// QueryAll is Query including soft-deleted and archived records.
func (b *Bulk2ObjectClient) QueryAll(ctx context.Context, query string, options *Bulk2Options) ([][]byte, error) {
	return b.query(ctx, "queryAll", query, options)
}

// QueryRecords runs Query and parses every page into records.
func (b *Bulk2ObjectClient) QueryRecords(ctx context.Context, query string, options *Bulk2Options) ([]Record, error) {
	opts := options.normalize()
	pages, err := b.query(ctx, "query", query, &opts)
	if err != nil {
		return nil, err
	}
	var all []Record
	for _, page := range pages {
		records, err := csvToRecords(page, opts.ColumnDelimiter)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

func (b *Bulk2ObjectClient) ingestResultPage(ctx context.Context, jobID, kind string) ([]byte, error) {
	resp, err := b.client.call(ctx, "GET", b.bulk2URL+"ingest/"+jobID+"/"+kind, b.objectName, nil,
		map[string]string{"Accept": "text/csv"})
	if err != nil {
		return nil, err
	}
	return filterNullBytes(resp.Body), nil
}

// GetSuccessfulRecords returns the CSV of records an ingest job processed
// successfully, including the generated sf__Id column.
func (b *Bulk2ObjectClient) GetSuccessfulRecords(ctx context.Context, jobID string) ([]byte, error) {
	return b.ingestResultPage(ctx, jobID, "successfulResults")
}

// GetFailedRecords returns the CSV of records an ingest job rejected,
// including the sf__Error column.
func (b *Bulk2ObjectClient) GetFailedRecords(ctx context.Context, jobID string) ([]byte, error) {
	return b.ingestResultPage(ctx, jobID, "failedResults")
}

// GetUnprocessedRecords returns the CSV of records an ingest job never
// processed, e.g. after an abort.
func (b *Bulk2ObjectClient) GetUnprocessedRecords(ctx context.Context, jobID string) ([]byte, error) {
	return b.ingestResultPage(ctx, jobID, "unprocessedrecords")
}

// GetAllIngestRecords fetches and parses all three ingest result sets,
// keyed "successfulRecords", "failedRecords" and "unprocessedRecords".
func (b *Bulk2ObjectClient) GetAllIngestRecords(ctx context.Context, jobID string, options *Bulk2Options) (map[string][]Record, error) {
	opts := options.normalize()
	out := map[string][]Record{}
	for key, kind := range map[string]string{
		"successfulRecords":  "successfulResults",
		"failedRecords":      "failedResults",
		"unprocessedRecords": "unprocessedrecords",
	} {
		page, err := b.ingestResultPage(ctx, jobID, kind)
		if err != nil {
			return nil, err
		}
		records, err := csvToRecords(page, opts.ColumnDelimiter)
		if err != nil {
			return nil, err
		}
		out[key] = records
	}
	return out, nil
}
