package livedb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownHandle = errors.New("livedb: unknown listener handle")
	ErrClosed        = errors.New("livedb: closed")
)

// QueryError reports that a query could not be evaluated, either locally
// (unsupported key path, bad predicate) or because the server rejected its
// subscription. It is terminal for the result set.
type QueryError struct {
	Query string
	Msg   string
	Err   error
}

func QueryErrf(query string, err error, format string, args ...any) error {
	return &QueryError{query, fmt.Sprintf(format, args...), err}
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func (e *QueryError) Error() string {
	var buf strings.Builder
	buf.WriteString("query")
	if e.Query != "" {
		buf.WriteString(" ")
		buf.WriteString(e.Query)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

func fmtTransitionErr(from, to State) error {
	return fmt.Errorf("livedb: invalid state transition %s -> %s", from, to)
}
