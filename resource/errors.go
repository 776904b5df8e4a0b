package resource

import (
	"errors"
	"fmt"
)

// Kind classifies why a fetch failed.
type Kind int

const (
	// KindNetwork means the request could not be sent or completed.
	KindNetwork Kind = iota
	// KindServer means the server answered with a non-2xx status.
	KindServer
	// KindDecode means the body was not valid JSON or lacked expected fields.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindDecode:
		return "decode"
	default:
		return fmt.Sprintf("unknown (%d)", int(k))
	}
}

// FetchError is returned by every Client call that fails.
type FetchError struct {
	Kind     Kind
	Endpoint string
	Status   int    // set for KindServer
	Body     string // leading bytes of a failed response, if any
	Err      error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindServer:
		if e.Body != "" {
			return fmt.Sprintf("resource: %s: server error %d: %s", e.Endpoint, e.Status, e.Body)
		}
		return fmt.Sprintf("resource: %s: server error %d", e.Endpoint, e.Status)
	default:
		return fmt.Sprintf("resource: %s: %s error: %v", e.Endpoint, e.Kind, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Decode wraps err as a decode failure for endpoint. Callers use it when a
// syntactically valid body is missing fields they require.
func Decode(endpoint string, err error) error {
	return &FetchError{Kind: KindDecode, Endpoint: endpoint, Err: err}
}

// KindOf reports the fetch kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}
