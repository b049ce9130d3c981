package ledger

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	CodeDuplicateName = "6240"
	CodeStaleObject   = "5010"
)

var (
	ErrDuplicateName = errors.New("ledger: duplicate name")
	// ErrStaleObject means the SyncToken sent with an update is no longer current.
	ErrStaleObject = errors.New("ledger: stale object")
	ErrRateLimited = errors.New("ledger: rate limited")
	ErrNotFound    = errors.New("ledger: not found")
)

// Error is a rejected ledger request. Use errors.Is with the sentinels above to classify it.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Detail     string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ledger api error %d", e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Detail != "" && e.Detail != e.Message {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrDuplicateName:
		return e.Code == CodeDuplicateName
	case ErrStaleObject:
		return e.Code == CodeStaleObject
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

type faultBody struct {
	Fault *struct {
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
		Type string `json:"type"`
	} `json:"Fault"`
}
