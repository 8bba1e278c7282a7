package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	ActionDeposit  = "deposit"
	ActionWithdraw = "withdraw"
	ActionYield    = "yield"
)

// Scenario is a scripted sequence of pool operations run by the simulate command.
type Scenario struct {
	Steps []Step `yaml:"steps"`
}

// Step is one operation. Deposits move Amount assets from From and mint to To (From when empty);
// withdrawals burn Amount shares from Holder; yield credits Amount to custody.
type Step struct {
	Action string `yaml:"action"`
	From   string `yaml:"from,omitempty"`
	To     string `yaml:"to,omitempty"`
	Holder string `yaml:"holder,omitempty"`
	Amount string `yaml:"amount"`

	// ExpectError names the pool error the step must fail with, e.g. "insufficient shares".
	ExpectError string `yaml:"expect_error,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	for i, step := range s.Steps {
		if _, err := ParseAmount(step.Amount); err != nil {
			return fmt.Errorf("scenario: steps[%d].amount: %w", i, err)
		}
		switch step.Action {
		case ActionDeposit:
			if _, err := ParseAddress(step.From); err != nil {
				return fmt.Errorf("scenario: steps[%d].from: %w", i, err)
			}
			if step.To != "" {
				if _, err := ParseAddress(step.To); err != nil {
					return fmt.Errorf("scenario: steps[%d].to: %w", i, err)
				}
			}
		case ActionWithdraw:
			if _, err := ParseAddress(step.Holder); err != nil {
				return fmt.Errorf("scenario: steps[%d].holder: %w", i, err)
			}
		case ActionYield:
		default:
			return fmt.Errorf("scenario: steps[%d]: unknown action %q", i, step.Action)
		}
	}
	return nil
}
