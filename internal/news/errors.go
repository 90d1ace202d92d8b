package news

import (
	"errors"
	"fmt"
)

var ErrEmptyTopic = errors.New("news: empty topic")

// UpstreamHTTPError is returned when the search endpoint answers with a
// non-success status or an error envelope.
type UpstreamHTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UpstreamHTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("news: upstream returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("news: upstream returned %d: %s", e.StatusCode, e.Message)
}

// NetworkError wraps transport failures (DNS, refused connections, timeouts).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "news: request failed: " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

// IsDegradable reports whether err is an upstream or network failure that
// callers may turn into an empty result.
func IsDegradable(err error) bool {
	var upstream *UpstreamHTTPError
	var network *NetworkError
	return errors.As(err, &upstream) || errors.As(err, &network)
}
