package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresIdempotencyChecker is the cold tier of command deduplication. The
// engine consults it on an LRU miss, so the lookup carries a tight timeout
// to keep the hot path bounded.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db}
}

// IsDuplicate checks whether a command with this idempotency key has already
// produced an event. The op is part of the engine's composite LRU key but
// the event log is keyed by idempotency key alone, which is globally unique
// per request.
func (pic *PostgresIdempotencyChecker) IsDuplicate(op string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE idempotency_key = $1
		LIMIT 1
	`, idempotencyKey).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns composite "op:key" strings for the newest events,
// oldest first so LRU warming leaves the newest at the front. Failure events
// are skipped; their keys never mark a command as processed.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT event_type, idempotency_key
		FROM event_log.events
		WHERE event_type <> 'Failure'
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []struct{ eventType, key string }
	for rows.Next() {
		var p struct{ eventType, key string }
		if err := rows.Scan(&p.eventType, &p.key); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(pairs))
	for i := len(pairs) - 1; i >= 0; i-- {
		op, ok := opForEventType(pairs[i].eventType)
		if !ok {
			continue
		}
		keys = append(keys, op+":"+pairs[i].key)
	}
	return keys, nil
}

// opForEventType maps a stored event type back to the operation name the
// engine used in its composite dedup key.
func opForEventType(eventType string) (string, bool) {
	switch eventType {
	case "SupplyReceived":
		return "supply", true
	case "SupplyWithdrawn":
		return "withdraw", true
	case "BorrowTaken":
		return "borrow", true
	case "BorrowRepaid":
		return "repay_borrow", true
	case "BorrowLiquidated":
		return "liquidate_borrow", true
	case "SupportedMarket":
		return "support_market", true
	case "SuspendedMarket":
		return "suspend_market", true
	case "NewMarketInterestRateModel":
		return "set_rate_model", true
	case "NewRiskParameters":
		return "set_risk_parameters", true
	case "NewOriginationFee":
		return "set_origination_fee", true
	case "NewOracle":
		return "set_oracle", true
	case "NewPendingAdmin":
		return "set_pending_admin", true
	case "NewAdmin":
		return "accept_admin", true
	case "PausedSet":
		return "set_paused", true
	case "EquityWithdrawn":
		return "withdraw_equity", true
	case "BlockAdvanced":
		return "set_block_number", true
	default:
		return "", false
	}
}
