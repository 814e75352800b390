package salesforce

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		target interface{}
	}{
		{300, new(*MoreThanOneRecordError)},
		{400, new(*MalformedRequestError)},
		{401, new(*ExpiredSessionError)},
		{403, new(*RefusedRequestError)},
		{404, new(*ResourceNotFoundError)},
		{405, new(*GeneralError)},
		{500, new(*GeneralError)},
		{503, new(*GeneralError)},
	}
	for _, tt := range tests {
		err := statusError("https://na1.salesforce.com/x", tt.status, "Contact", []byte(`{"message":"boom"}`))
		require.Error(t, err)
		assert.True(t, errors.As(err, tt.target), "status %d should map to %T", tt.status, tt.target)
	}
}

func TestStatusErrorMessages(t *testing.T) {
	err := statusError("https://x/y", 404, "Contact", []byte("gone"))
	assert.Contains(t, err.Error(), "Contact")
	assert.Contains(t, err.Error(), "gone")

	err = statusError("https://x/y", 512, "Contact", []byte("boom"))
	assert.Contains(t, err.Error(), "512")

	err = statusError("https://x/y", 401, "Contact", []byte("expired"))
	assert.Contains(t, err.Error(), "https://x/y")
}

func TestStatusErrorExposesResponseContext(t *testing.T) {
	err := statusError("https://x/y", 400, "Lead", []byte("bad"))
	var malformed *MalformedRequestError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 400, malformed.StatusCode)
	assert.Equal(t, "Lead", malformed.ResourceName)
	assert.Equal(t, "bad", malformed.Body)
	assert.Equal(t, "https://x/y", malformed.URL)
}
