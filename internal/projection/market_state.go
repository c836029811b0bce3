package projection

import (
	"context"
	"database/sql"

	"LendLedger/internal/state"
)

// UpsertMarketState mirrors a market's live aggregates into
// projections.market_state. Events do not carry market aggregates, so the
// shell refreshes this table from the engine on a timer rather than from
// the event stream.
func UpsertMarketState(ctx context.Context, db *sql.DB, m *state.Market, sequence int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.market_state
			(asset, supported, block_number, cash, total_supply, total_borrows,
			 supply_rate, borrow_rate, supply_index, borrow_index, as_of_sequence, updated_at)
		VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC,
		        $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, NOW())
		ON CONFLICT (asset) DO UPDATE SET
			supported = $2, block_number = $3, cash = $4::NUMERIC,
			total_supply = $5::NUMERIC, total_borrows = $6::NUMERIC,
			supply_rate = $7::NUMERIC, borrow_rate = $8::NUMERIC,
			supply_index = $9::NUMERIC, borrow_index = $10::NUMERIC,
			as_of_sequence = $11, updated_at = NOW()
	`, m.Asset, m.Supported, int64(m.BlockNumber), m.Cash.Dec(), m.TotalSupply.Dec(),
		m.TotalBorrows.Dec(), m.SupplyRateMantissa.Dec(), m.BorrowRateMantissa.Dec(),
		m.SupplyIndex.Dec(), m.BorrowIndex.Dec(), sequence)
	return err
}
