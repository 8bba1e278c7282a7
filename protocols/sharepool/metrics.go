package sharepool

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/sharepool-go/engine"
)

const (
	opDeposit  = "deposit"
	opWithdraw = "withdraw"
)

// Metrics holds the prometheus collectors of one pool.
type Metrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	totalShares       prometheus.Gauge
	totalPooledAssets prometheus.Gauge
	sequence          prometheus.Gauge

	subscribersDropped prometheus.Counter
}

// NewMetrics registers a pool's collectors, labelled with the pool's identity.
func NewMetrics(reg prometheus.Registerer, pool string) (*Metrics, error) {
	labels := prometheus.Labels{"pool": pool}
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "sharepool",
			Name:        "operations_total",
			Help:        "Deposits and withdrawals by outcome.",
			ConstLabels: labels,
		}, []string{"op", "result"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "sharepool",
			Name:        "operation_duration_seconds",
			Help:        "Time spent in deposits and withdrawals, lock wait included.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op"}),
		totalShares: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "sharepool",
			Name:        "total_shares",
			Help:        "Outstanding shares after the last commit.",
			ConstLabels: labels,
		}),
		totalPooledAssets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "sharepool",
			Name:        "total_pooled_assets",
			Help:        "Pooled assets observed at the last commit.",
			ConstLabels: labels,
		}),
		sequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "sharepool",
			Name:        "sequence",
			Help:        "Number of committed operations.",
			ConstLabels: labels,
		}),
		subscribersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sharepool",
			Name:        "state_subscribers_dropped_total",
			Help:        "State subscribers closed for falling behind.",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{m.operations, m.operationDuration, m.totalShares, m.totalPooledAssets, m.sequence, m.subscribersDropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	m.operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	m.operations.WithLabelValues(op, resultLabel(err)).Inc()
}

func (m *Metrics) commit(state *engine.State) {
	m.totalShares.Set(toFloat(state.TotalShares))
	m.totalPooledAssets.Set(toFloat(state.TotalPooledAssets))
	m.sequence.Set(float64(state.Sequence))
}

// resultLabel maps an operation error onto a bounded label value.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidAccount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrUnauthorizedController):
		return "unauthorized_controller"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
