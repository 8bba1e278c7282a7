package server

import (
	"errors"

	"github.com/defistate/sharepool-go/protocols/sharepool"
)

// JSON-RPC error codes for pool failures. Standard JSON-RPC codes are left to the rpc package.
const (
	CodeInvalidAmount          = -32010
	CodeInsufficientShares     = -32011
	CodeTransferFailed         = -32012
	CodeUnauthorizedController = -32013
	CodeInvariantViolation     = -32014
	CodeReentrantCall          = -32015
	CodeInvalidAccount         = -32016
)

var poolErrors = []struct {
	err  error
	code int
}{
	{sharepool.ErrInvalidAmount, CodeInvalidAmount},
	{sharepool.ErrInvalidAccount, CodeInvalidAccount},
	{sharepool.ErrInsufficientShares, CodeInsufficientShares},
	{sharepool.ErrTransferFailed, CodeTransferFailed},
	{sharepool.ErrUnauthorizedController, CodeUnauthorizedController},
	{sharepool.ErrInvariantViolation, CodeInvariantViolation},
	{sharepool.ErrReentrantCall, CodeReentrantCall},
}

// Error is a pool failure as reported to RPC clients. The data field carries the
// failure kind so clients can match it without parsing the message.
type Error struct {
	code int
	kind string
	err  error
}

func (e *Error) Error() string          { return e.err.Error() }
func (e *Error) ErrorCode() int         { return e.code }
func (e *Error) ErrorData() interface{} { return e.kind }
func (e *Error) Unwrap() error          { return e.err }

// rpcError attaches a JSON-RPC code to pool errors and passes anything else through.
func rpcError(err error) error {
	if err == nil {
		return nil
	}
	for _, pe := range poolErrors {
		if errors.Is(err, pe.err) {
			return &Error{code: pe.code, kind: pe.err.Error(), err: err}
		}
	}
	return err
}

// SentinelForCode returns the pool error behind a JSON-RPC error code.
func SentinelForCode(code int) (error, bool) {
	for _, pe := range poolErrors {
		if pe.code == code {
			return pe.err, true
		}
	}
	return nil, false
}
