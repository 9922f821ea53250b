package domain

import (
	"errors"
	"fmt"
	"strings"
)

// FieldIssue is one problem found while validating a payload.
type FieldIssue struct {
	Field   string
	Message string
}

func (i FieldIssue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// ValidationError reports every issue found in a malformed payload.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("invalid chat payload: %s", strings.Join(parts, "; "))
}

// ErrConnectionClosed is returned by a connection whose peer sent a close frame.
var ErrConnectionClosed = errors.New("connection closed by peer")
