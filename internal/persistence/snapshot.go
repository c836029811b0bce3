package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"LendLedger/internal/core"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots hold market aggregates, balance records, risk parameters, the
// admin identities, sequence counters, the tip state hash, and recent
// idempotency keys for LRU warming.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized form of core.SnapshotState. Token amounts
// and mantissas are decimal strings so the JSON survives values beyond 64
// bits.
type SnapshotData struct {
	Sequence         int64             `json:"sequence"`
	StateHash        []byte            `json:"state_hash"`
	BlockNumber      uint64            `json:"block_number"`
	Markets          []MarketSnapshot  `json:"markets"`
	CollateralAssets []string          `json:"collateral_assets"`
	Balances         []BalanceSnapshot `json:"balances"`
	CollateralRatio  string            `json:"collateral_ratio"`
	LiquidationDisc  string            `json:"liquidation_discount"`
	OriginationFee   string            `json:"origination_fee"`
	Admin            string            `json:"admin"`
	PendingAdmin     string            `json:"pending_admin,omitempty"`
	Paused           bool              `json:"paused"`
	IdempotencyKeys  []string          `json:"idempotency_keys"`
	CreatedAt        time.Time         `json:"created_at"`
}

// MarketSnapshot is a serializable market. The rate model is a capability,
// not state; restore resolves it by asset name.
type MarketSnapshot struct {
	Asset        string `json:"asset"`
	Supported    bool   `json:"supported"`
	BlockNumber  uint64 `json:"block_number"`
	Cash         string `json:"cash"`
	TotalSupply  string `json:"total_supply"`
	TotalBorrows string `json:"total_borrows"`
	SupplyRate   string `json:"supply_rate"`
	BorrowRate   string `json:"borrow_rate"`
	SupplyIndex  string `json:"supply_index"`
	BorrowIndex  string `json:"borrow_index"`
}

// BalanceSnapshot is a serializable balance record.
type BalanceSnapshot struct {
	Account       string `json:"account"`
	Asset         string `json:"asset"`
	Side          string `json:"side"`
	Principal     string `json:"principal"`
	InterestIndex string `json:"interest_index"`
}

// SnapshotFromCore converts engine snapshot state into its serialized form.
func SnapshotFromCore(snap *core.SnapshotState, createdAt time.Time) *SnapshotData {
	sd := &SnapshotData{
		Sequence:         snap.Sequence,
		StateHash:        append([]byte(nil), snap.StateHash[:]...),
		BlockNumber:      snap.BlockNumber,
		CollateralAssets: append([]string(nil), snap.CollateralAssets...),
		CollateralRatio:  snap.Params.CollateralRatio.Mantissa.Dec(),
		LiquidationDisc:  snap.Params.LiquidationDiscount.Mantissa.Dec(),
		OriginationFee:   snap.Params.OriginationFee.Mantissa.Dec(),
		Admin:            snap.Admin,
		PendingAdmin:     snap.PendingAdmin,
		Paused:           snap.Paused,
		IdempotencyKeys:  append([]string(nil), snap.IdempotencyKeys...),
		CreatedAt:        createdAt,
	}

	for _, asset := range snap.CollateralAssets {
		m, ok := snap.Markets[asset]
		if !ok {
			continue
		}
		sd.Markets = append(sd.Markets, MarketSnapshot{
			Asset:        m.Asset,
			Supported:    m.Supported,
			BlockNumber:  m.BlockNumber,
			Cash:         m.Cash.Dec(),
			TotalSupply:  m.TotalSupply.Dec(),
			TotalBorrows: m.TotalBorrows.Dec(),
			SupplyRate:   m.SupplyRateMantissa.Dec(),
			BorrowRate:   m.BorrowRateMantissa.Dec(),
			SupplyIndex:  m.SupplyIndex.Dec(),
			BorrowIndex:  m.BorrowIndex.Dec(),
		})
	}

	for _, b := range snap.Balances {
		sd.Balances = append(sd.Balances, BalanceSnapshot{
			Account:       b.Account,
			Asset:         b.Asset,
			Side:          b.Side.String(),
			Principal:     b.Principal.Dec(),
			InterestIndex: b.InterestIndex.Dec(),
		})
	}

	return sd
}

// ToCore converts the serialized snapshot back into engine snapshot state.
// Markets come back without rate models; RestoreFromSnapshot resolves those.
func (sd *SnapshotData) ToCore() (*core.SnapshotState, error) {
	snap := &core.SnapshotState{
		Sequence:         sd.Sequence,
		BlockNumber:      sd.BlockNumber,
		Markets:          make(map[string]*state.Market, len(sd.Markets)),
		CollateralAssets: append([]string(nil), sd.CollateralAssets...),
		Admin:            sd.Admin,
		PendingAdmin:     sd.PendingAdmin,
		Paused:           sd.Paused,
		IdempotencyKeys:  append([]string(nil), sd.IdempotencyKeys...),
	}
	copy(snap.StateHash[:], sd.StateHash)

	ratio, err := parseDecimal(sd.CollateralRatio, "collateral_ratio")
	if err != nil {
		return nil, err
	}
	discount, err := parseDecimal(sd.LiquidationDisc, "liquidation_discount")
	if err != nil {
		return nil, err
	}
	fee, err := parseDecimal(sd.OriginationFee, "origination_fee")
	if err != nil {
		return nil, err
	}
	snap.Params = state.RiskParams{
		CollateralRatio:     fpmath.NewExp(ratio),
		LiquidationDiscount: fpmath.NewExp(discount),
		OriginationFee:      fpmath.NewExp(fee),
	}

	for _, ms := range sd.Markets {
		m := &state.Market{
			Asset:       ms.Asset,
			Supported:   ms.Supported,
			BlockNumber: ms.BlockNumber,
		}
		fields := []struct {
			dst  **uint256.Int
			src  string
			name string
		}{
			{&m.Cash, ms.Cash, "cash"},
			{&m.TotalSupply, ms.TotalSupply, "total_supply"},
			{&m.TotalBorrows, ms.TotalBorrows, "total_borrows"},
			{&m.SupplyRateMantissa, ms.SupplyRate, "supply_rate"},
			{&m.BorrowRateMantissa, ms.BorrowRate, "borrow_rate"},
			{&m.SupplyIndex, ms.SupplyIndex, "supply_index"},
			{&m.BorrowIndex, ms.BorrowIndex, "borrow_index"},
		}
		for _, f := range fields {
			v, err := parseDecimal(f.src, fmt.Sprintf("market %s %s", ms.Asset, f.name))
			if err != nil {
				return nil, err
			}
			*f.dst = v
		}
		snap.Markets[ms.Asset] = m
	}

	for _, bs := range sd.Balances {
		principal, err := parseDecimal(bs.Principal, "balance principal")
		if err != nil {
			return nil, err
		}
		index, err := parseDecimal(bs.InterestIndex, "balance interest index")
		if err != nil {
			return nil, err
		}
		side := state.SideSupply
		if bs.Side == "borrow" {
			side = state.SideBorrow
		}
		snap.Balances = append(snap.Balances, state.BalanceRecord{
			Account:       bs.Account,
			Asset:         bs.Asset,
			Side:          side,
			Principal:     principal,
			InterestIndex: index,
		})
	}

	return snap, nil
}

func parseDecimal(s, field string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", field, err)
	}
	return v, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots start unverified;
// the caller marks them verified after checking the hash chain up to the
// snapshot sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, len(data), snap.CreatedAt)

	return len(data), err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart the engine restores from it and replays events from
// snapshot.sequence+1. Returns nil with no error on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after the integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence, used for hash-chain
// verification after a restart and by the projection rebuild.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, asset, block_number,
		       payload, state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Asset, &e.BlockNumber,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, with
// ok=false when the log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, bool, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, false, err
	}
	if !seq.Valid {
		return 0, false, nil
	}
	return seq.Int64, true, nil
}
