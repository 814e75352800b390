package salesforce

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBulk2Options() *Bulk2Options {
	return &Bulk2Options{
		PollInterval: time.Millisecond,
		Timeout:      5 * time.Second,
	}
}

func TestRecordsToCSV(t *testing.T) {
	csvData, err := recordsToCSV([]Record{
		{"LastName": "One", "Email": "one@example.com"},
		{"LastName": "Two", "Phone": "555"},
	}, DelimiterComma, LineEndingLF)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(csvData, "\n"), "\n")
	require.Len(t, lines, 3)
	// Header is the sorted union of every record's fields.
	assert.Equal(t, "Email,LastName,Phone", lines[0])
	assert.Equal(t, "one@example.com,One,", lines[1])
	assert.Equal(t, ",Two,555", lines[2])
}

func TestCSVRoundTrip(t *testing.T) {
	csvData, err := recordsToCSV([]Record{
		{"Name": "with,comma", "Note": "with \"quotes\""},
	}, DelimiterComma, LineEndingLF)
	require.NoError(t, err)

	records, err := csvToRecords([]byte(csvData), DelimiterComma)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "with,comma", records[0]["Name"])
	assert.Equal(t, `with "quotes"`, records[0]["Note"])
}

func TestSplitCSVByRecordCount(t *testing.T) {
	csvData := "Id\n" + strings.Repeat("001x\n", 5)
	chunks, err := splitCSV(csvData, LineEndingLF, 2, 1<<20)
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		lines := strings.Split(strings.TrimSuffix(chunk, "\n"), "\n")
		assert.Equal(t, "Id", lines[0], "chunk %d must repeat the header", i)
	}
	assert.Equal(t, "Id\n001x\n001x\n", chunks[0])
	assert.Equal(t, "Id\n001x\n", chunks[2])
}

func TestSplitCSVByByteSize(t *testing.T) {
	csvData := "Id\naaaaaaaaaa\nbbbbbbbbbb\n"
	chunks, err := splitCSV(csvData, LineEndingLF, 1000, 16)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Id\naaaaaaaaaa\n", chunks[0])
	assert.Equal(t, "Id\nbbbbbbbbbb\n", chunks[1])
}

func TestSplitCSVRowTooLarge(t *testing.T) {
	csvData := "Id\n" + strings.Repeat("x", 100) + "\n"
	_, err := splitCSV(csvData, LineEndingLF, 1000, 20)
	var loadErr *BulkV2LoadError
	require.True(t, errors.As(err, &loadErr))
}

func TestFilterNullBytes(t *testing.T) {
	assert.Equal(t, []byte("abc"), filterNullBytes([]byte("a\x00b\x00c")))
	clean := []byte("abc")
	assert.Equal(t, clean, filterNullBytes(clean))
}

func TestBulk2Insert(t *testing.T) {
	mux := http.NewServeMux()
	var uploaded string
	var states []string

	mux.HandleFunc("/services/data/v52.0/jobs/ingest", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload Record
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "insert", payload["operation"])
		assert.Equal(t, "Contact", payload["object"])
		assert.Equal(t, "CSV", payload["contentType"])
		assert.Equal(t, "COMMA", payload["columnDelimiter"])
		assert.Equal(t, "LF", payload["lineEnding"])
		w.Write([]byte(`{"id":"750V2","state":"Open","contentUrl":"services/data/v52.0/jobs/ingest/750V2/batches"}`))
	})
	mux.HandleFunc("/services/data/v52.0/jobs/ingest/750V2/batches", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		assert.Equal(t, "text/csv", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		uploaded = string(body)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/services/data/v52.0/jobs/ingest/750V2", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PATCH" {
			body, _ := io.ReadAll(r.Body)
			var payload Record
			require.NoError(t, json.Unmarshal(body, &payload))
			states = append(states, payload["state"].(string))
			w.Write([]byte(`{"id":"750V2","state":"UploadComplete"}`))
			return
		}
		w.Write([]byte(`{"id":"750V2","state":"JobComplete","numberRecordsProcessed":2,"numberRecordsFailed":0}`))
	})

	client, _ := newTestClient(t, mux)
	results, err := client.Bulk2("Contact").Insert(context.Background(), []Record{
		{"LastName": "One"},
		{"LastName": "Two"},
	}, fastBulk2Options())
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "750V2", results[0].JobID)
	assert.Equal(t, int64(2), results[0].NumberRecordsProcessed)
	assert.Equal(t, int64(0), results[0].NumberRecordsFailed)
	assert.Equal(t, []string{"UploadComplete"}, states)
	assert.True(t, strings.HasPrefix(uploaded, "LastName\n"))
}

func TestBulk2InsertChunksIntoSeparateJobs(t *testing.T) {
	mux := http.NewServeMux()
	var jobs atomic.Int32

	mux.HandleFunc("/services/data/v52.0/jobs/ingest", func(w http.ResponseWriter, r *http.Request) {
		n := jobs.Add(1)
		w.Write([]byte(`{"id":"750V` + string(rune('0'+n)) + `","state":"Open"}`))
	})
	for _, id := range []string{"750V1", "750V2", "750V3"} {
		id := id
		mux.HandleFunc("/services/data/v52.0/jobs/ingest/"+id+"/batches", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
		mux.HandleFunc("/services/data/v52.0/jobs/ingest/"+id, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == "PATCH" {
				w.Write([]byte(`{"id":"` + id + `","state":"UploadComplete"}`))
				return
			}
			w.Write([]byte(`{"id":"` + id + `","state":"JobComplete","numberRecordsProcessed":1,"numberRecordsFailed":0}`))
		})
	}

	client, _ := newTestClient(t, mux)
	opts := fastBulk2Options()
	opts.ChunkMaxRecords = 1
	results, err := client.Bulk2("Contact").Insert(context.Background(), []Record{
		{"LastName": "One"}, {"LastName": "Two"}, {"LastName": "Three"},
	}, opts)
	require.NoError(t, err)

	assert.Equal(t, int32(3), jobs.Load())
	require.Len(t, results, 3)
	assert.Equal(t, "750V1", results[0].JobID)
	assert.Equal(t, "750V3", results[2].JobID)
}

func TestBulk2IngestFailedJob(t *testing.T) {
	mux := http.NewServeMux()
	var states []string

	mux.HandleFunc("/services/data/v52.0/jobs/ingest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"750V2","state":"Open"}`))
	})
	mux.HandleFunc("/services/data/v52.0/jobs/ingest/750V2/batches", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/services/data/v52.0/jobs/ingest/750V2", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PATCH" {
			body, _ := io.ReadAll(r.Body)
			var payload Record
			require.NoError(t, json.Unmarshal(body, &payload))
			states = append(states, payload["state"].(string))
			w.Write([]byte(`{"id":"750V2","state":"` + payload["state"].(string) + `"}`))
			return
		}
		w.Write([]byte(`{"id":"750V2","state":"Failed","errorMessage":"InvalidBatch : Field name not found : Nope"}`))
	})

	client, _ := newTestClient(t, mux)
	_, err := client.Bulk2("Contact").Insert(context.Background(),
		[]Record{{"Nope": "x"}}, fastBulk2Options())

	var loadErr *BulkV2LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Contains(t, loadErr.Message, "InvalidBatch")
	// The failed job is aborted before the error surfaces.
	assert.Equal(t, []string{"UploadComplete", "Aborted"}, states)
}

func TestBulk2IngestTimeoutAbortsJob(t *testing.T) {
	mux := http.NewServeMux()
	var states []string

	mux.HandleFunc("/services/data/v52.0/jobs/ingest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"750V2","state":"Open"}`))
	})
	mux.HandleFunc("/services/data/v52.0/jobs/ingest/750V2/batches", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/services/data/v52.0/jobs/ingest/750V2", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PATCH" {
			body, _ := io.ReadAll(r.Body)
			var payload Record
			require.NoError(t, json.Unmarshal(body, &payload))
			states = append(states, payload["state"].(string))
			w.Write([]byte(`{"id":"750V2","state":"` + payload["state"].(string) + `"}`))
			return
		}
		// Never leaves InProgress.
		w.Write([]byte(`{"id":"750V2","state":"InProgress"}`))
	})

	client, _ := newTestClient(t, mux)
	opts := &Bulk2Options{PollInterval: time.Millisecond, Timeout: 50 * time.Millisecond}
	_, err := client.Bulk2("Contact").Insert(context.Background(),
		[]Record{{"LastName": "One"}}, opts)

	var opErr *OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Contains(t, opErr.Message, "did not finish")
	assert.Equal(t, []string{"UploadComplete", "Aborted"}, states)
}

func TestBulk2RejectedUploadAbortsJob(t *testing.T) {
	mux := http.NewServeMux()
	var aborted atomic.Bool

	mux.HandleFunc("/services/data/v52.0/jobs/ingest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"750V2","state":"Open"}`))
	})
	mux.HandleFunc("/services/data/v52.0/jobs/ingest/750V2/batches", func(w http.ResponseWriter, r *http.Request) {
		// 200 instead of the expected 201.
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/services/data/v52.0/jobs/ingest/750V2", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PATCH" {
			body, _ := io.ReadAll(r.Body)
			if strings.Contains(string(body), "Aborted") {
				aborted.Store(true)
			}
			w.Write([]byte(`{"id":"750V2","state":"Aborted"}`))
			return
		}
		w.Write([]byte(`{"id":"750V2","state":"Open"}`))
	})

	client, _ := newTestClient(t, mux)
	_, err := client.Bulk2("Contact").Insert(context.Background(),
		[]Record{{"LastName": "One"}}, fastBulk2Options())

	var loadErr *BulkV2LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.True(t, aborted.Load())
}

func TestBulk2DeleteRequiresIDOnly(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for invalid delete data")
	}))

	_, err := client.Bulk2("Contact").Delete(context.Background(),
		[]Record{{"Id": "003a", "LastName": "One"}}, fastBulk2Options())
	var loadErr *BulkV2LoadError
	require.True(t, errors.As(err, &loadErr))

	_, err = client.Bulk2("Contact").Delete(context.Background(),
		[]Record{{"LastName": "One"}}, fastBulk2Options())
	require.True(t, errors.As(err, &loadErr))
}

func TestBulk2QueryPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/data/v52.0/jobs/query", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload Record
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "query", payload["operation"])
		assert.Equal(t, "SELECT Id FROM Contact", payload["query"])
		w.Write([]byte(`{"id":"750Q2","state":"UploadComplete"}`))
	})
	mux.HandleFunc("/services/data/v52.0/jobs/query/750Q2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"750Q2","state":"JobComplete"}`))
	})
	mux.HandleFunc("/services/data/v52.0/jobs/query/750Q2/results", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/csv", r.Header.Get("Accept"))
		if r.URL.Query().Get("locator") == "" {
			w.Header().Set("Sforce-Locator", "MTAw")
			w.Header().Set("Sforce-NumberOfRecords", "2")
			w.Write([]byte("Id\n003a\n003b\n"))
			return
		}
		assert.Equal(t, "MTAw", r.URL.Query().Get("locator"))
		w.Header().Set("Sforce-Locator", "null")
		w.Write([]byte("Id\n003c\n"))
	})

	client, _ := newTestClient(t, mux)
	records, err := client.Bulk2("Contact").QueryRecords(context.Background(),
		"SELECT Id FROM Contact", fastBulk2Options())
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, "003a", records[0]["Id"])
	assert.Equal(t, "003c", records[2]["Id"])
}

func TestBulk2QueryWithoutQuery(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := client.Bulk2("Contact").Query(context.Background(), "", fastBulk2Options())
	var extractErr *BulkV2ExtractError
	require.True(t, errors.As(err, &extractErr))
}

func TestBulk2FailedQueryJob(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/data/v52.0/jobs/query", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"750Q2","state":"UploadComplete"}`))
	})
	mux.HandleFunc("/services/data/v52.0/jobs/query/750Q2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"750Q2","state":"Failed","errorMessage":"INVALID_FIELD: no such column"}`))
	})

	client, _ := newTestClient(t, mux)
	_, err := client.Bulk2("Contact").Query(context.Background(),
		"SELECT Nope FROM Contact", fastBulk2Options())

	var opErr *OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Contains(t, opErr.Message, "INVALID_FIELD")
}

func TestBulk2GetAllIngestRecords(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/services/data/v52.0/jobs/ingest/750V2/successfulResults", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("sf__Id,sf__Created,LastName\n003a,true,One\n"))
	})
	mux.HandleFunc("/services/data/v52.0/jobs/ingest/750V2/failedResults", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("sf__Error,LastName\nREQUIRED_FIELD_MISSING,Two\n"))
	})
	mux.HandleFunc("/services/data/v52.0/jobs/ingest/750V2/unprocessedrecords", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("LastName\n"))
	})

	client, _ := newTestClient(t, mux)
	all, err := client.Bulk2("Contact").GetAllIngestRecords(context.Background(), "750V2", nil)
	require.NoError(t, err)

	require.Len(t, all["successfulRecords"], 1)
	assert.Equal(t, "003a", all["successfulRecords"][0]["sf__Id"])
	require.Len(t, all["failedRecords"], 1)
	assert.Equal(t, "REQUIRED_FIELD_MISSING", all["failedRecords"][0]["sf__Error"])
	assert.Empty(t, all["unprocessedRecords"])
}
