package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/defistate/sharepool-go/cmd/sharepool/config"
	"github.com/defistate/sharepool-go/engine"
	"github.com/defistate/sharepool-go/streams/jsonrpc/stateops"
)

func (a *app) simulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a scripted scenario against a fresh pool and print the final state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario, err := config.LoadScenario(args[0])
			if err != nil {
				return err
			}
			return a.simulate(cmd.Context(), scenario, cmd.OutOrStdout())
		},
	}
}

// simulationReport is printed once the scenario has run.
type simulationReport struct {
	State    *engine.State                   `json:"state"`
	Custody  *uint256.Int                    `json:"custody"`
	Balances map[common.Address]*uint256.Int `json:"balances"`
}

// simulate runs every step against a fresh pool. After each committed step the new state is
// diffed against the previous one and the diff is applied to a replica, so the scenario also
// exercises the stream path end to end.
func (a *app) simulate(ctx context.Context, scenario *config.Scenario, out io.Writer) error {
	logger := a.logger
	registry := prometheus.NewRegistry()

	d, err := deploy(ctx, a.cfg, logger, registry)
	if err != nil {
		return err
	}
	ops, err := stateops.NewStateOps(logger, registry)
	if err != nil {
		return err
	}

	replica, err := d.pool.Snapshot(ctx)
	if err != nil {
		return err
	}

	for i, step := range scenario.Steps {
		// Steps were validated on load.
		amount, _ := config.ParseAmount(step.Amount)

		var result *uint256.Int
		switch step.Action {
		case config.ActionDeposit:
			from, _ := config.ParseAddress(step.From)
			to := from
			if step.To != "" {
				to, _ = config.ParseAddress(step.To)
			}
			result, err = d.pool.DepositTo(ctx, from, to, amount)
		case config.ActionWithdraw:
			holder, _ := config.ParseAddress(step.Holder)
			result, err = d.pool.WithdrawFrom(ctx, holder, amount)
		case config.ActionYield:
			err = d.source.Yield(ctx, amount)
		}

		if step.ExpectError != "" {
			if err == nil || !strings.Contains(err.Error(), step.ExpectError) {
				return fmt.Errorf("step %d (%s): expected error %q, got %v", i, step.Action, step.ExpectError, err)
			}
			logger.Info("Step failed as expected", "step", i, "action", step.Action, "error", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}

		current, err := d.pool.Snapshot(ctx)
		if err != nil {
			return err
		}
		diff, err := ops.Diff(replica, current)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		replica, err = ops.Patch(replica, diff)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}

		attrs := []any{
			"step", i,
			"action", step.Action,
			"amount", amount.Dec(),
			"sequence", diff.ToSequence,
			"total_shares", diff.TotalShares.Dec(),
			"total_pooled_assets", diff.TotalPooledAssets.Dec(),
			"holders_changed", len(diff.Holders),
		}
		if result != nil {
			attrs = append(attrs, "result", result.Dec())
		}
		logger.Info("Step committed", attrs...)

		if err := d.pool.Verify(ctx); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}

	final, err := d.pool.Snapshot(ctx)
	if err != nil {
		return err
	}
	if !final.SumHolders().Eq(replica.SumHolders()) || final.Sequence != replica.Sequence {
		return fmt.Errorf("replica diverged at sequence %d", replica.Sequence)
	}

	report := simulationReport{
		State:    final,
		Custody:  d.assets.BalanceOf(d.source.Address()),
		Balances: make(map[common.Address]*uint256.Int, len(d.accounts)),
	}
	for _, acct := range d.accounts {
		report.Balances[acct] = d.assets.BalanceOf(acct)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
