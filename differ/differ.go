package differ

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/sharepool-go/engine"
)

// StateDifferConfig holds the differ's dependencies.
type StateDifferConfig struct {
	Registry prometheus.Registerer
	Logger   Logger
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *StateDifferConfig) validate() error {
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// StateDiffer computes the changes between consecutive pool states.
type StateDiffer struct {
	metrics *Metrics
	logger  Logger
}

// NewStateDiffer constructs a new differ from a configuration, returning an error if the config is invalid.
func NewStateDiffer(cfg *StateDifferConfig) (*StateDiffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &StateDiffer{
		metrics: NewMetrics(cfg.Registry),
		logger:  cfg.Logger,
	}, nil
}

// Diff describes how to get from old to new. Both states must belong to the same pool and
// new must not be older than old.
func (d *StateDiffer) Diff(old, new *engine.State) (*StateDiff, error) {
	totalTimer := prometheus.NewTimer(d.metrics.diffDuration.WithLabelValues())
	defer totalTimer.ObserveDuration()

	if old == nil || new == nil {
		return nil, errors.New("differ: states must not be nil")
	}
	if old.Meta != new.Meta {
		return nil, fmt.Errorf("differ: pool mismatch (old=%s, new=%s)", old.Meta.Pool.Hex(), new.Meta.Pool.Hex())
	}
	if new.Sequence < old.Sequence {
		return nil, fmt.Errorf("differ: new state %d is older than %d", new.Sequence, old.Sequence)
	}

	holders := make(map[common.Address]*uint256.Int)
	for holder, shares := range new.Holders {
		if prev, ok := old.Holders[holder]; ok && prev.Eq(shares) {
			continue
		}
		holders[holder] = shares.Clone()
	}
	for holder := range old.Holders {
		if _, ok := new.Holders[holder]; !ok {
			holders[holder] = uint256.NewInt(0)
		}
	}
	d.metrics.holdersChanged.Observe(float64(len(holders)))

	if new.Sequence-old.Sequence > 1 {
		d.logger.Debug("Diff spans several commits", "from", old.Sequence, "to", new.Sequence)
	}

	return &StateDiff{
		Timestamp:         uint64(time.Now().UnixNano()),
		Meta:              new.Meta,
		FromSequence:      old.Sequence,
		ToSequence:        new.Sequence,
		TotalShares:       clone(new.TotalShares),
		TotalPooledAssets: clone(new.TotalPooledAssets),
		AssetsPerShare:    clone(new.AssetsPerShare),
		Holders:           holders,
	}, nil
}

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}
