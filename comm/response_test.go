package comm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCheck(t *testing.T) {
	t.Run("success band returns nil", func(t *testing.T) {
		for _, code := range []int{200, 201, 204, 299} {
			resp := NewResponse(code, "ok")
			assert.NoError(t, resp.Check(), "status %d", code)
		}
	})

	t.Run("4xx returns CriticalError with status and payload", func(t *testing.T) {
		for _, code := range []int{400, 403, 404, 499} {
			err := NewResponse(code, "denied").Check()
			require.Error(t, err)

			var critical *CriticalError
			require.ErrorAs(t, err, &critical, "status %d", code)
			assert.Equal(t, code, critical.HTTPStatus())
			assert.Equal(t, "denied", critical.Reason())
			assert.False(t, critical.Retryable())
		}
	})

	t.Run("5xx returns TransientError with status and payload", func(t *testing.T) {
		for _, code := range []int{500, 503, 599} {
			err := NewResponse(code, "busy").Check()
			require.Error(t, err)

			var transient *TransientError
			require.ErrorAs(t, err, &transient, "status %d", code)
			assert.Equal(t, code, transient.HTTPStatus())
			assert.Equal(t, "busy", transient.Reason())
			assert.True(t, transient.Retryable())
		}
	})

	t.Run("reserved bands are unsupported", func(t *testing.T) {
		for _, code := range []int{0, 100, 199, 300, 399, 600, 1000} {
			err := NewResponse(code, nil).Check()
			require.Error(t, err, "status %d", code)
			assert.ErrorIs(t, err, ErrUnsupportedStatus)

			_, isComm := AsCommunicationError(err)
			assert.False(t, isComm, "status %d must stay out of the retry taxonomy", code)
		}
	})
}

func TestCommunicationErrorTaxonomy(t *testing.T) {
	t.Run("both kinds unwrap as CommunicationError", func(t *testing.T) {
		for _, err := range []error{
			&CriticalError{Status: 404, Data: "gone"},
			&TransientError{Status: 503, Data: "later"},
		} {
			commErr, ok := AsCommunicationError(err)
			require.True(t, ok)
			assert.NotZero(t, commErr.HTTPStatus())
		}
	})

	t.Run("formatting carries the status", func(t *testing.T) {
		err := &CriticalError{Status: 403, Data: "x"}
		assert.Equal(t, "[HTTP 403] x", err.Error())
	})

	t.Run("unrelated errors are not communication errors", func(t *testing.T) {
		_, ok := AsCommunicationError(errors.New("boom"))
		assert.False(t, ok)
	})
}

func TestResponseWireFormat(t *testing.T) {
	t.Run("finalize defaults to true when absent", func(t *testing.T) {
		resp, err := DecodeResponse([]byte(`{"status":200,"payload":"pong"}`))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.Status)
		assert.Equal(t, "pong", resp.Payload)
		assert.True(t, resp.Finalize())
	})

	t.Run("explicit finalize false survives", func(t *testing.T) {
		resp, err := DecodeResponse([]byte(`{"status":200,"payload":null,"finalize":false}`))
		require.NoError(t, err)
		assert.False(t, resp.Finalize())
	})

	t.Run("round trip", func(t *testing.T) {
		original := &Response{Status: 503, Payload: "try later", Requeue: true}
		body, err := EncodeResponse(original)
		require.NoError(t, err)

		decoded, err := DecodeResponse(body)
		require.NoError(t, err)
		assert.Equal(t, original.Status, decoded.Status)
		assert.Equal(t, original.Payload, decoded.Payload)
		assert.Equal(t, original.Finalize(), decoded.Finalize())
	})

	t.Run("garbage body fails", func(t *testing.T) {
		_, err := DecodeResponse([]byte("not json"))
		assert.Error(t, err)
	})
}
