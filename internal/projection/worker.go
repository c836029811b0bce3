package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"LendLedger/internal/core"
	"LendLedger/internal/event"
)

// ProjectionWorker updates the read-side tables from processed events. The
// projection channel is non-blocking with drop; a missed event leaves a
// stale row until the next touch of the same balance, and the tables can
// always be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			env := output.Envelope
			if err := pw.processEvent(ctx, env.Sequence, env.EventType.String(), env.Payload); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", env.Sequence, err)
				// Projections are eventually consistent and rebuildable.
			}
		}
	}
}

func (pw *ProjectionWorker) processEvent(ctx context.Context, sequence int64, eventType string, payload []byte) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyEvent(ctx, tx, sequence, eventType, payload); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// applyEvent routes one event into the projection tables. Shared by the live
// worker and the rebuild path so both produce identical rows.
func applyEvent(ctx context.Context, tx *sql.Tx, sequence int64, eventType string, payload []byte) error {
	switch eventType {
	case "SupplyReceived":
		var e event.SupplyReceived
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		return setBalance(ctx, tx, e.Account, e.Market, "supply", e.NewBalance, sequence)

	case "SupplyWithdrawn":
		var e event.SupplyWithdrawn
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		return setBalance(ctx, tx, e.Account, e.Market, "supply", e.NewBalance, sequence)

	case "BorrowTaken":
		var e event.BorrowTaken
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		return setBalance(ctx, tx, e.Account, e.Market, "borrow", e.NewBalance, sequence)

	case "BorrowRepaid":
		var e event.BorrowRepaid
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		return setBalance(ctx, tx, e.Account, e.Market, "borrow", e.NewBalance, sequence)

	case "BorrowLiquidated":
		var e event.BorrowLiquidated
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("decode %s: %w", eventType, err)
		}
		return applyLiquidation(ctx, tx, sequence, &e)
	}

	// Admin and failure events carry no balance changes.
	return nil
}

func setBalance(ctx context.Context, tx *sql.Tx, account, asset, side, balance string, sequence int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account, asset, side, balance, last_sequence)
		VALUES ($1, $2, $3, $4::NUMERIC, $5)
		ON CONFLICT (account, asset, side)
		DO UPDATE SET balance = $4::NUMERIC, last_sequence = $5
		WHERE projections.balances.last_sequence < $5
	`, account, asset, side, balance, sequence)
	return err
}

func applyLiquidation(ctx context.Context, tx *sql.Tx, sequence int64, e *event.BorrowLiquidated) error {
	if err := setBalance(ctx, tx, e.TargetAccount, e.BorrowedAsset, "borrow", e.BorrowBalanceAfter, sequence); err != nil {
		return err
	}
	if err := setBalance(ctx, tx, e.TargetAccount, e.CollateralAsset, "supply", e.CollateralBalanceAfter, sequence); err != nil {
		return err
	}

	// The payload carries no post-seize liquidator balance, so the seized
	// amount is added onto whatever the projection already holds.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account, asset, side, balance, last_sequence)
		VALUES ($1, $2, 'supply', $3::NUMERIC, $4)
		ON CONFLICT (account, asset, side)
		DO UPDATE SET balance = projections.balances.balance + $3::NUMERIC, last_sequence = $4
		WHERE projections.balances.last_sequence < $4
	`, e.Liquidator, e.CollateralAsset, e.AmountSeized, sequence); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, target_account, liquidator, borrowed_asset, collateral_asset, amount_repaid, amount_seized)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC)
		ON CONFLICT (sequence) DO NOTHING
	`, sequence, e.TargetAccount, e.Liquidator, e.BorrowedAsset, e.CollateralAsset, e.AmountRepaid, e.AmountSeized)
	return err
}

// RebuildProjections truncates the read-side tables and replays the event
// log through the same handlers the live worker uses.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.liquidation_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	const batchSize = 1000
	from := int64(0)
	var lastSeq int64

	for {
		rows, err := db.QueryContext(ctx, `
			SELECT sequence, event_type, payload
			FROM event_log.events
			WHERE sequence >= $1
			ORDER BY sequence ASC
			LIMIT $2
		`, from, batchSize)
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}

		type row struct {
			seq       int64
			eventType string
			payload   []byte
		}
		var batch []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.seq, &r.eventType, &r.payload); err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, r := range batch {
			if err := applyEvent(ctx, tx, r.seq, r.eventType, r.payload); err != nil {
				tx.Rollback()
				return fmt.Errorf("replay seq=%d: %w", r.seq, err)
			}
			lastSeq = r.seq
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
			VALUES ('main', $1, NOW())
			ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
		`, lastSeq); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		from = batch[len(batch)-1].seq + 1
		if len(batch) < batchSize {
			break
		}
	}

	log.Printf("INFO: projection rebuild complete (last_sequence=%d)", lastSeq)
	return nil
}
