package comm

import (
	"fmt"

	"github.com/commflow/commflow/internal/codec"
)

// Status codes commonly produced by this layer. Any HTTP status code in the
// 2xx, 4xx, or 5xx bands is valid in a Response.
const (
	StatusOK            = 200
	StatusBadRequest    = 400
	StatusInternalError = 500
)

// Response is the envelope RPC services send back to callers: a status code
// with HTTP semantics, the response payload, and the finalize flag deciding
// whether the consumed message is settled.
//
// RPC callers never see Response values; the communication layer inspects
// the envelope and either returns the payload or raises the matching
// CommunicationError. Processor functions return a Response (or a raw value,
// which backends wrap into a 200 Response) to control status and finalize
// behaviour explicitly.
type Response struct {
	Status  int
	Payload any

	// Requeue is the inverse of the finalize flag. When set, the consumed
	// message is not acknowledged and stays eligible for broker-side
	// re-delivery. The zero value finalizes, matching the wire default.
	Requeue bool
}

// NewResponse returns a finalizing Response with the given status and payload.
func NewResponse(status int, payload any) *Response {
	return &Response{Status: status, Payload: payload}
}

// Finalize reports whether the consumed message should be acknowledged.
func (r *Response) Finalize() bool { return !r.Requeue }

// Check inspects the status code and returns the matching failure, or nil
// for the success band:
//
//	200-299  nil
//	400-499  *CriticalError carrying status and payload
//	500-599  *TransientError carrying status and payload
//
// The reserved bands (<=199, 300-399, >599) return an error wrapping
// ErrUnsupportedStatus.
func (r *Response) Check() error {
	switch {
	case r.Status >= 200 && r.Status <= 299:
		return nil
	case r.Status >= 400 && r.Status <= 499:
		return &CriticalError{Status: r.Status, Data: r.Payload}
	case r.Status >= 500 && r.Status <= 599:
		return &TransientError{Status: r.Status, Data: r.Payload}
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedStatus, r.Status)
	}
}

// wireResponse is the serialized form of a Response. The finalize flag is a
// pointer so that an absent field keeps its documented default of true.
type wireResponse struct {
	Status   int   `json:"status"`
	Payload  any   `json:"payload"`
	Finalize *bool `json:"finalize,omitempty"`
}

// MarshalJSON encodes the envelope in its wire form {status, payload,
// finalize}.
func (r *Response) MarshalJSON() ([]byte, error) {
	finalize := r.Finalize()
	return codec.Marshal(wireResponse{
		Status:   r.Status,
		Payload:  r.Payload,
		Finalize: &finalize,
	})
}

// UnmarshalJSON decodes the wire form. A missing finalize field defaults to
// true.
func (r *Response) UnmarshalJSON(data []byte) error {
	var wire wireResponse
	if err := codec.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.Status = wire.Status
	r.Payload = wire.Payload
	r.Requeue = wire.Finalize != nil && !*wire.Finalize
	return nil
}

// DecodeResponse deserializes a reply body into a Response envelope.
func DecodeResponse(body []byte) (*Response, error) {
	resp := new(Response)
	if err := codec.Unmarshal(body, resp); err != nil {
		return nil, fmt.Errorf("decoding response envelope: %w", err)
	}
	return resp, nil
}

// EncodeResponse serializes a Response envelope for the wire.
func EncodeResponse(resp *Response) ([]byte, error) {
	return codec.Marshal(resp)
}
