package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"LendLedger/internal/core"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Command op names, matching the final token of the command subject.
const (
	OpSupply          = "supply"
	OpWithdraw        = "withdraw"
	OpBorrow          = "borrow"
	OpRepayBorrow     = "repay_borrow"
	OpLiquidateBorrow = "liquidate_borrow"
	OpSetBlockNumber  = "set_block_number"
)

// commandWire is the JSON shape of a command message. Amounts are decimal
// strings of raw token units; "max" is accepted where the operation defines
// a maximum sentinel.
type commandWire struct {
	RequestID       string    `json:"request_id"`
	Account         string    `json:"account"`
	Asset           string    `json:"asset"`
	Amount          string    `json:"amount,omitempty"`
	TargetAccount   string    `json:"target_account,omitempty"`
	CollateralAsset string    `json:"collateral_asset,omitempty"`
	BlockNumber     uint64    `json:"block_number,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Command is a validated ledger command ready to apply to the engine.
type Command struct {
	Op              string
	RequestID       uuid.UUID
	Account         string
	Asset           string
	CollateralAsset string
	Target          string
	Amount          *uint256.Int
	Max             bool
	BlockNumber     uint64
	Timestamp       time.Time
}

// ParseCommand validates a raw command message. The op is the final subject
// token, e.g. "supply" from "lend.ledger.cmds.supply".
func ParseCommand(subject string, data []byte) (*Command, error) {
	op := subject
	if i := strings.LastIndex(subject, "."); i >= 0 {
		op = subject[i+1:]
	}

	var wire commandWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	requestID, err := uuid.Parse(wire.RequestID)
	if err != nil {
		return nil, fmt.Errorf("invalid request_id %q: %w", wire.RequestID, err)
	}
	if wire.Account == "" {
		return nil, fmt.Errorf("account is required")
	}
	if wire.Timestamp.IsZero() {
		return nil, fmt.Errorf("timestamp is required")
	}

	cmd := &Command{
		Op:        op,
		RequestID: requestID,
		Account:   wire.Account,
		Asset:     wire.Asset,
		Timestamp: wire.Timestamp,
	}

	switch op {
	case OpSupply, OpBorrow:
		if wire.Asset == "" {
			return nil, fmt.Errorf("%s: asset is required", op)
		}
		if wire.Amount == "max" {
			return nil, fmt.Errorf("%s: max amount is not defined", op)
		}
		if cmd.Amount, err = parseAmount(wire.Amount); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

	case OpWithdraw, OpRepayBorrow:
		if wire.Asset == "" {
			return nil, fmt.Errorf("%s: asset is required", op)
		}
		if wire.Amount == "max" {
			cmd.Max = true
			cmd.Amount = new(uint256.Int)
		} else if cmd.Amount, err = parseAmount(wire.Amount); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

	case OpLiquidateBorrow:
		if wire.Asset == "" || wire.CollateralAsset == "" {
			return nil, fmt.Errorf("liquidate_borrow: asset and collateral_asset are required")
		}
		if wire.TargetAccount == "" {
			return nil, fmt.Errorf("liquidate_borrow: target_account is required")
		}
		cmd.Target = wire.TargetAccount
		cmd.CollateralAsset = wire.CollateralAsset
		if wire.Amount == "max" {
			cmd.Max = true
			cmd.Amount = new(uint256.Int)
		} else if cmd.Amount, err = parseAmount(wire.Amount); err != nil {
			return nil, fmt.Errorf("liquidate_borrow: %w", err)
		}

	case OpSetBlockNumber:
		cmd.BlockNumber = wire.BlockNumber

	default:
		return nil, fmt.Errorf("unknown command op %q", op)
	}

	return cmd, nil
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount is required")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

// Apply dispatches the command to the corresponding engine operation.
func (c *Command) Apply(engine *core.LedgerEngine) error {
	op := core.Op{RequestID: c.RequestID, Caller: c.Account, Timestamp: c.Timestamp}

	switch c.Op {
	case OpSupply:
		return engine.Supply(op, c.Asset, c.Amount)
	case OpWithdraw:
		return engine.Withdraw(op, c.Asset, c.amount())
	case OpBorrow:
		return engine.Borrow(op, c.Asset, c.Amount)
	case OpRepayBorrow:
		return engine.RepayBorrow(op, c.Asset, c.amount())
	case OpLiquidateBorrow:
		return engine.LiquidateBorrow(op, c.Target, c.Asset, c.CollateralAsset, c.amount())
	case OpSetBlockNumber:
		return engine.SetBlockNumber(op, c.BlockNumber)
	default:
		return fmt.Errorf("unknown command op %q", c.Op)
	}
}

func (c *Command) amount() core.Amount {
	if c.Max {
		return core.MaxAmount()
	}
	return core.ExactAmount(c.Amount)
}
