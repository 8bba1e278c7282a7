package differ

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/defistate/sharepool-go/engine"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateDiff summarizes the changes between two states of the same pool, FromSequence to ToSequence.
// Totals are carried in full; only holders whose shares changed are listed.
type StateDiff struct {
	Timestamp    uint64          `json:"timestamp"`
	Meta         engine.PoolMeta `json:"meta"`
	FromSequence uint64          `json:"fromSequence"`
	ToSequence   uint64          `json:"toSequence"`

	TotalShares       *uint256.Int `json:"totalShares"`
	TotalPooledAssets *uint256.Int `json:"totalPooledAssets"`
	AssetsPerShare    *uint256.Int `json:"assetsPerShare"`

	// Holders maps each changed holder to its new shares. A zero value removes the holder.
	Holders map[common.Address]*uint256.Int `json:"holders,omitempty"`
}

// IsEmpty reports whether the diff changes nothing but the timestamp.
func (d *StateDiff) IsEmpty() bool {
	return d.FromSequence == d.ToSequence && len(d.Holders) == 0
}
