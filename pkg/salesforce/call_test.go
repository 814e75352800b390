package salesforce

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallSetsAuthHeaders(t *testing.T) {
	var gotAuth, gotPretty string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPretty = r.Header.Get("X-PrettyPrint")
		w.Write([]byte(`{}`))
	}))

	_, err := client.call(context.Background(), "GET", client.baseURL+"limits", "limits", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer 00Dsession!token", gotAuth)
	assert.Equal(t, "1", gotPretty)
}

func TestCallMapsErrorStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`[{"errorCode":"NOT_FOUND"}]`))
	}))

	_, err := client.call(context.Background(), "GET", client.baseURL+"sobjects/Contact/003xx", "Contact", nil, nil)
	var notFound *ResourceNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "Contact", notFound.ResourceName)
}

func TestCallCapturesUsage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Sforce-Limit-Info", "api-usage=42/5000")
		w.Write([]byte(`{}`))
	}))

	_, err := client.call(context.Background(), "GET", client.baseURL+"limits", "limits", nil, nil)
	require.NoError(t, err)

	usage := client.APIUsage()
	require.NotNil(t, usage.API)
	assert.Equal(t, 42, usage.API.Used)
	assert.Equal(t, 5000, usage.API.Total)
}

func TestCallRefreshesExpiredSession(t *testing.T) {
	var calls atomic.Int32
	var lastAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastAuth = r.Header.Get("Authorization")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`[{"errorCode":"INVALID_SESSION_ID"}]`))
			return
		}
		w.Write([]byte(`{}`))
	}))
	// Re-loginable credentials: the refresh swaps in a fresh session id.
	client.creds = &Credentials{
		SessionID: "refreshed!token",
		Instance:  client.Instance(),
	}

	_, err := client.call(context.Background(), "GET", client.baseURL+"limits", "limits", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "Bearer refreshed!token", lastAuth)
	assert.Equal(t, "refreshed!token", client.SessionID())
}

func TestCallDoesNotRefreshDirectSession(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`[]`))
	}))

	_, err := client.call(context.Background(), "GET", client.baseURL+"limits", "limits", nil, nil)
	var expired *ExpiredSessionError
	require.True(t, errors.As(err, &expired))
	assert.Equal(t, int32(1), calls.Load(), "a client without credentials must not replay")
}

func TestCallNoRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.call(context.Background(), "GET", client.baseURL+"limits", "limits", nil, nil)
	var general *GeneralError
	require.True(t, errors.As(err, &general))
	assert.Equal(t, int32(1), calls.Load())
}
