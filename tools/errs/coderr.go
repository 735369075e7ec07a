package errs

import (
	"errors"
	"strconv"
	"strings"
)

// CodeError is the error currency of the gateway. The Code is stable and
// machine-checkable; Msg is the only part that may reach a client. Detail is
// for logs and never leaves the process.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// WithDetail returns a copy carrying extra detail; the receiver is unchanged so
// the sentinels below stay clean.
func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

// Is matches by code so WithDetail copies compare equal to their sentinel.
func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// Taxonomy of the gateway subsystem. Auth errors are fatal to a connection;
// denylist and backend errors are replied as failure envelopes; adapter and
// resolution errors degrade or fail a single call and stay invisible to
// clients beyond a boolean/void failure.
var (
	ErrAuth               = NewCodeError(1401, "authentication failed")
	ErrDenylist           = NewCodeError(1403, "not allowed")
	ErrBackend            = NewCodeError(1500, "backend action failed")
	ErrActionNotFound     = NewCodeError(1501, "action not found")
	ErrAdapterUnavailable = NewCodeError(1503, "fanout backbone unavailable")
	ErrRoomResolution     = NewCodeError(1404, "connection not found")
	ErrBadRoomKey         = NewCodeError(1400, "invalid room key")
)

func New(msg string) error { return errors.New(msg) }

// ClientMessage returns the message safe to put into a reply envelope: the Msg
// of a CodeError, or the plain error text for anything else. Stack traces and
// Detail never cross this boundary.
func ClientMessage(err error) string {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Msg
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
