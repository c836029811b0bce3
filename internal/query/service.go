package query

import (
	"context"
	"database/sql"
	"fmt"
)

// QueryService provides read-only access to the projection tables and the
// event log. Responses include as_of_sequence so callers can reason about
// freshness relative to the engine's live sequence.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalances returns every projected balance record for an account.
func (qs *QueryService) GetBalances(ctx context.Context, account string) ([]BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT asset, side, balance::TEXT, last_sequence
		FROM projections.balances
		WHERE account = $1
		ORDER BY asset, side
	`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []BalanceResponse
	for rows.Next() {
		b := BalanceResponse{Account: account, AsOfSequence: asOfSeq}
		if err := rows.Scan(&b.Asset, &b.Side, &b.Balance, &b.LastSequence); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}

	return balances, rows.Err()
}

// GetBalance returns one projected balance record, zero if none exists.
func (qs *QueryService) GetBalance(ctx context.Context, account, asset, side string) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	b := BalanceResponse{Account: account, Asset: asset, Side: side, Balance: "0", AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance::TEXT, last_sequence
		FROM projections.balances
		WHERE account = $1 AND asset = $2 AND side = $3
	`, account, asset, side).Scan(&b.Balance, &b.LastSequence)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	return &b, nil
}

// GetLiquidationHistory returns applied liquidations, newest first, with
// cursor-based pagination. A nil account returns all liquidations.
func (qs *QueryService) GetLiquidationHistory(
	ctx context.Context,
	account *string,
	limit int,
	beforeSequence *int64,
) ([]LiquidationHistoryEntry, error) {
	query := `
		SELECT sequence, target_account, liquidator, borrowed_asset,
		       collateral_asset, amount_repaid::TEXT, amount_seized::TEXT
		FROM projections.liquidation_history
	`
	var conds []string
	var args []interface{}

	if account != nil {
		args = append(args, *account)
		conds = append(conds, fmt.Sprintf("(target_account = $%d OR liquidator = $%d)", len(args), len(args)))
	}
	if beforeSequence != nil {
		args = append(args, *beforeSequence)
		conds = append(conds, fmt.Sprintf("sequence < $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LiquidationHistoryEntry
	for rows.Next() {
		var e LiquidationHistoryEntry
		if err := rows.Scan(
			&e.Sequence, &e.TargetAccount, &e.Liquidator, &e.BorrowedAsset,
			&e.CollateralAsset, &e.AmountRepaid, &e.AmountSeized,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetEvents returns event log rows from a sequence onward, optionally
// filtered by asset.
func (qs *QueryService) GetEvents(ctx context.Context, asset *string, fromSequence int64, limit int) ([]EventLogEntry, error) {
	query := `
		SELECT sequence, event_type, asset, block_number, payload, timestamp
		FROM event_log.events
		WHERE sequence >= $1
	`
	args := []interface{}{fromSequence}

	if asset != nil {
		args = append(args, *asset)
		query += fmt.Sprintf(" AND asset = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY sequence ASC LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EventLogEntry
	for rows.Next() {
		var e EventLogEntry
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.Asset, &e.BlockNumber, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// VerifyIntegrity checks hash chain continuity across the event log and
// scans the projections for impossible negative balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	var err error
	report.LastSequence, err = qs.latestSequence(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = qs.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM projections.balances WHERE balance < 0
	`).Scan(&report.NegativeBalances)
	if err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.NegativeBalances == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) latestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := qs.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
