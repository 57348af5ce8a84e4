package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrExists             = errors.New("already exists")
	ErrUnsupported        = errors.New("not supported by this protocol")
	ErrNotConnected       = errors.New("not connected")
)

// APIError is a failure reported by the remote.
type APIError struct {
	Action     string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (status %d)", e.Action, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Action, e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrPreconditionFailed:
		return e.StatusCode == http.StatusPreconditionFailed
	}
	return false
}

func zosmfError(action string, resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	apiErr := &APIError{Action: action, StatusCode: resp.StatusCode}

	var errResp struct {
		Message string `json:"message"`
		Details []struct {
			Message string `json:"messageText"`
		} `json:"details"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Message != "" {
		apiErr.Message = errResp.Message
		if len(errResp.Details) > 0 && errResp.Details[0].Message != "" {
			apiErr.Message += ": " + errResp.Details[0].Message
		}
		return apiErr
	}

	if len(body) > 0 {
		apiErr.Message = string(body)
	}
	return apiErr
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
