package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/defistate/sharepool-go/streams/jsonrpc/server"
)

// SubscriptionEvent is the wrapper object received from the server.
// Payload is decoded later according to Type.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// RemoteError is a pool failure reported by the server. It unwraps to the matching
// sharepool sentinel, so callers can use errors.Is as they would in-process.
type RemoteError struct {
	Code     int
	Message  string
	sentinel error
}

func (e *RemoteError) Error() string { return e.Message }
func (e *RemoteError) Unwrap() error { return e.sentinel }

// remoteError maps coded rpc errors back onto pool sentinels. Other errors pass through.
func remoteError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	sentinel, ok := server.SentinelForCode(rpcErr.ErrorCode())
	if !ok {
		return fmt.Errorf("rpc error %d: %w", rpcErr.ErrorCode(), err)
	}
	return &RemoteError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error(), sentinel: sentinel}
}
