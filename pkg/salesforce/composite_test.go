package salesforce

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeCreate(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/services/data/v52.0/composite/sobjects", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			AllOrNone bool     `json:"allOrNone"`
			Records   []Record `json:"records"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.True(t, payload.AllOrNone)
		require.Len(t, payload.Records, 2)
		w.Write([]byte(`[{"id":"003a","success":true},{"id":"003b","success":true}]`))
	}))

	results, err := client.Composite().Create(context.Background(), []Record{
		{"attributes": Record{"type": "Contact"}, "LastName": "One"},
		{"attributes": Record{"type": "Contact"}, "LastName": "Two"},
	}, true)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, true, results[0]["success"])
}

func TestCompositeUpdate(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PATCH", r.Method)
		w.Write([]byte(`[{"id":"003a","success":true}]`))
	}))

	results, err := client.Composite().Update(context.Background(), []Record{
		{"attributes": Record{"type": "Contact"}, "Id": "003a", "LastName": "New"},
	}, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestCompositeDelete(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "003a,003b", r.URL.Query().Get("ids"))
		assert.Equal(t, "true", r.URL.Query().Get("allOrNone"))
		w.Write([]byte(`[{"id":"003a","success":true},{"id":"003b","success":true}]`))
	}))

	results, err := client.Composite().Delete(context.Background(), []string{"003a", "003b"}, true)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestCompositeDeleteEncodesIDs(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "003a,003&b", r.URL.Query().Get("ids"))
		// Reserved characters must not leak into the raw query unescaped.
		assert.NotContains(t, r.URL.RawQuery, "&b")
		w.Write([]byte(`[{"id":"003a","success":true},{"id":"003&b","success":false}]`))
	}))

	results, err := client.Composite().Delete(context.Background(), []string{"003a", "003&b"}, false)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestCompositeRetrieve(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/data/v52.0/composite/sobjects/Contact", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			IDs    []string `json:"ids"`
			Fields []string `json:"fields"`
		}
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, []string{"003a"}, payload.IDs)
		assert.Equal(t, []string{"LastName"}, payload.Fields)
		w.Write([]byte(`[{"Id":"003a","LastName":"One"}]`))
	}))

	results, err := client.Composite().Retrieve(context.Background(), "Contact",
		[]string{"003a"}, []string{"LastName"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "One", results[0]["LastName"])
}

func TestCompositeTreeCreate(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/data/v52.0/composite/tree/Account", r.URL.Path)
		w.Write([]byte(`{"hasErrors":false,"results":[{"referenceId":"ref1","id":"001a"}]}`))
	}))

	result, err := client.Composite().TreeCreate(context.Background(), "Account", []Record{
		{"attributes": Record{"type": "Account", "referenceId": "ref1"}, "Name": "Acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, false, result["hasErrors"])
}
