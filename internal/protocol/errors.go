package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClientClosed is returned for requests issued after Close.
var ErrClientClosed = errors.New("protocol: client closed")

// RequestError is a failure reported by the recording service for one request.
type RequestError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.Code, e.Message)
}

// AsRequestError unwraps err into a *RequestError if it is one.
func AsRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	return nil, false
}
