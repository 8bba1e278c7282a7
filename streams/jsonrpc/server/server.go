package server

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// NewServer registers the pool API, and the ledger API when given, on a fresh rpc.Server.
// The result serves HTTP via ServeHTTP and websockets via WebsocketHandler.
func NewServer(pool *PoolAPI, ledger *LedgerAPI) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(Namespace, pool); err != nil {
		return nil, fmt.Errorf("failed to register %s API: %w", Namespace, err)
	}
	if ledger != nil {
		if err := server.RegisterName(LedgerNamespace, ledger); err != nil {
			server.Stop()
			return nil, fmt.Errorf("failed to register %s API: %w", LedgerNamespace, err)
		}
	}
	return server, nil
}
