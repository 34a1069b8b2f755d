package errors

import (
	"fmt"
	"strings"
)

var ErrBadResponse = fmt.Errorf("bad response")
var ErrIDAlreadySet = fmt.Errorf("id already set")
var ErrInternal = fmt.Errorf("internal error")
var ErrMissingID = fmt.Errorf("missing id")
var ErrNotFound = fmt.Errorf("not found")
var ErrPartialFailure = fmt.Errorf("partial failure")
var ErrPolicyDenied = fmt.Errorf("denied by policy")
var ErrRequest = fmt.Errorf("request error")
var ErrUnexpectedStatus = fmt.Errorf("unexpected status")
var ErrValidation = fmt.Errorf("validation failed")

type myError struct {
	msg    string
	target error
}

func (m myError) Error() string        { return m.msg }
func (m myError) Is(target error) bool { return target == m.target }

func NewNotFoundError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrNotFound,
	}
}

func NewPolicyDeniedError(msg string) error {
	return &myError{
		msg:    msg,
		target: ErrPolicyDenied,
	}
}

// TransportError is returned when the service answers with a status code that
// does not match the expected outcome of the request.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func NewTransportError(method, url string, statusCode int, body []byte) *TransportError {
	return &TransportError{
		Method:     method,
		URL:        url,
		StatusCode: statusCode,
		Body:       body,
	}
}

func (e *TransportError) Error() string {
	body := string(e.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("%s %s returned status code %d (body: %s)", e.Method, e.URL, e.StatusCode, body)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// ChunkError records the failure of a single chunk in a bulk load.
type ChunkError struct {
	Index  int
	Offset int
	Size   int
	Err    error
}

func (e ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (offset %d, size %d): %s", e.Index, e.Offset, e.Size, e.Err.Error())
}

func (e ChunkError) Unwrap() error {
	return e.Err
}

type PartialFailureError struct {
	Total  int
	Chunks []ChunkError
}

func NewPartialFailureError(total int, chunks []ChunkError) *PartialFailureError {
	return &PartialFailureError{
		Total:  total,
		Chunks: chunks,
	}
}

func (e *PartialFailureError) Error() string {
	indices := make([]string, 0, len(e.Chunks))
	for _, c := range e.Chunks {
		indices = append(indices, fmt.Sprintf("%d", c.Index))
	}
	return fmt.Sprintf("%d of %d chunks failed (indices: %s)", len(e.Chunks), e.Total, strings.Join(indices, ","))
}

func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}
