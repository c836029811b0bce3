package core

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"LendLedger/internal/event"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/observability"
	"LendLedger/internal/risk"
	"LendLedger/internal/state"
	"LendLedger/internal/token"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Op identifies one operation request: who is calling, the stable request id
// used for dedup, and the versioned timestamp carried by the command. The
// engine never reads the wall clock.
type Op struct {
	RequestID uuid.UUID
	Caller    string
	Timestamp time.Time
}

// CoreOutput is what the engine hands to the persistence and projection
// workers for every applied operation.
type CoreOutput struct {
	Envelope *event.Envelope
}

// LedgerEngine is the single-writer lending ledger. All operations run under
// one lock, mutate state only on full success, and emit exactly one event
// (outcome or Failure) per non-duplicate request.
type LedgerEngine struct {
	mu sync.Mutex

	blockNumber      uint64
	markets          map[string]*state.Market
	collateralAssets []string
	accounts         *state.AccountStore
	params           state.RiskParams

	admin        string
	pendingAdmin string
	paused       bool
	oracle       state.PriceOracle
	oracleName   string

	tokens   token.TokenRegistry
	transfer token.Transferrer

	sequence    int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// EngineConfig carries the engine's construction-time wiring.
type EngineConfig struct {
	Admin               string
	LedgerAddress       string
	Tokens              token.TokenRegistry
	StartSequence       int64
	IdempotencyCapacity int
}

func NewLedgerEngine(
	cfg EngineConfig,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *LedgerEngine {
	capacity := cfg.IdempotencyCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}
	return &LedgerEngine{
		markets:          make(map[string]*state.Market),
		collateralAssets: make([]string, 0),
		accounts:         state.NewAccountStore(),
		params:           state.DefaultRiskParams(),
		admin:            cfg.Admin,
		tokens:           cfg.Tokens,
		transfer:         token.Transferrer{Ledger: cfg.LedgerAddress},
		sequence:         cfg.StartSequence,
		hasher:           NewStateHasher(),
		idempotency:      NewIdempotencyChecker(capacity, dbChecker, metrics),
		metrics:          metrics,
		persistChan:      persistChan,
		projectionChan:   projectionChan,
	}
}

// zeroPriceOracle prices everything at zero, standing in until the admin
// installs a real oracle.
type zeroPriceOracle struct{}

func (zeroPriceOracle) GetAssetPrice(asset string) fpmath.Exp {
	return fpmath.ZeroExp()
}

func (e *LedgerEngine) priceOracle() state.PriceOracle {
	if e.oracle == nil {
		return zeroPriceOracle{}
	}
	return e.oracle
}

func (e *LedgerEngine) assetPrice(asset string) fpmath.Exp {
	return e.priceOracle().GetAssetPrice(asset)
}

func (e *LedgerEngine) riskView() risk.View {
	return risk.View{
		Markets:          e.markets,
		CollateralAssets: e.collateralAssets,
		Accounts:         e.accounts,
		Oracle:           e.priceOracle(),
		CollateralRatio:  e.params.CollateralRatio,
		CurrentBlock:     e.blockNumber,
	}
}

// run is the shared operation pipeline: dedup, execute, emit, account. The
// handler returns either a success event (state already committed), a soft
// Failure (nothing committed, Failure event emitted), or a hard error (a
// non-standard token abort, propagated with no event).
func (e *LedgerEngine) run(op Op, opName, asset string, handler func() (event.Event, *Failure, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	if e.idempotency.IsDuplicate(opName, op.RequestID.String()) {
		if e.metrics != nil {
			e.metrics.OpsRejected.WithLabelValues(opName, "duplicate").Inc()
		}
		return nil
	}

	evt, failure, err := handler()
	if err != nil {
		return err
	}
	if failure != nil {
		if e.metrics != nil {
			e.metrics.OpFailures.WithLabelValues(opName, failure.Kind.String()).Inc()
		}
		e.emit(op, opName, &event.Failure{
			RequestID: op.RequestID,
			Operation: opName,
			Market:    asset,
			Kind:      failure.Kind.String(),
			Stage:     failure.Stage,
			Detail:    failure.Detail,
		})
		return failure
	}

	e.emit(op, opName, evt)

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(opName).Inc()
		e.metrics.OpDuration.WithLabelValues(opName).Observe(time.Since(start).Seconds())
	}
	return nil
}

// emit wraps the event in an envelope extending the state hash chain and
// hands it to the persistence (blocking) and projection (drop on full)
// workers.
func (e *LedgerEngine) emit(op Op, opName string, evt event.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: event payload not serializable: %v", err))
	}

	digest := ledgerDigest(e.markets, e.accounts, e.params, e.admin, e.pendingAdmin, e.paused, e.blockNumber)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)

	envelope := &event.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Asset:          evt.Asset(),
		BlockNumber:    e.blockNumber,
		Timestamp:      op.Timestamp,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{Envelope: envelope}

	// Persistence: blocking send, no event may be lost.
	e.persistChan <- output

	// Projections: non-blocking send, rebuildable from the event log.
	select {
	case e.projectionChan <- output:
	default:
	}

	e.sequence++
	e.idempotency.MarkProcessed(opName, evt.IdempotencyKey())

	if e.metrics != nil {
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
}

func (e *LedgerEngine) updateMarketMetrics(m *state.Market) {
	if e.metrics == nil {
		return
	}
	e.metrics.MarketCash.WithLabelValues(m.Asset).Set(float64(m.Cash.Uint64()))
	e.metrics.MarketTotalSupply.WithLabelValues(m.Asset).Set(float64(m.TotalSupply.Uint64()))
	e.metrics.MarketTotalBorrows.WithLabelValues(m.Asset).Set(float64(m.TotalBorrows.Uint64()))
}

// Supply moves amount of asset from the caller into the market and credits
// an interest-bearing supply balance.
func (e *LedgerEngine) Supply(op Op, asset string, amount *uint256.Int) error {
	return e.run(op, "supply", asset, func() (event.Event, *Failure, error) {
		if e.paused {
			return nil, fail(KindContractPaused, "supply: pause check"), nil
		}
		market, ok := e.markets[asset]
		if !ok || !market.Supported {
			return nil, fail(KindMarketNotSupported, "supply: market check"), nil
		}
		tok, ok := e.tokens.TokenFor(asset)
		if !ok {
			return nil, fail(KindMarketNotSupported, "supply: token lookup"), nil
		}

		check, err := e.transfer.CheckTransferIn(tok, op.Caller, amount)
		if err != nil {
			return nil, nil, fmt.Errorf("supply: token check aborted: %w", err)
		}
		switch check {
		case token.CheckInsufficientBalance:
			return nil, fail(KindTokenInsufficientBalance, "supply: transfer-in check"), nil
		case token.CheckInsufficientAllowance:
			return nil, fail(KindTokenInsufficientAllowance, "supply: transfer-in check"), nil
		}

		m := market.Clone()
		if err := m.Accrue(e.blockNumber); err != nil {
			return nil, failFrom(err, "supply: market accrual"), nil
		}
		startingBalance, err := e.accounts.AccruedBalance(op.Caller, asset, state.SideSupply, fpmath.NewExp(m.SupplyIndex))
		if err != nil {
			return nil, failFrom(err, "supply: balance accrual"), nil
		}
		newBalance, err := fpmath.Add(startingBalance, amount)
		if err != nil {
			return nil, failFrom(err, "supply: new balance calculation"), nil
		}
		newTotalSupply, err := fpmath.AddThenSub(m.TotalSupply, newBalance, startingBalance)
		if err != nil {
			return nil, failFrom(err, "supply: new total supply calculation"), nil
		}
		newCash, err := fpmath.Add(m.Cash, amount)
		if err != nil {
			return nil, failFrom(err, "supply: new total cash calculation"), nil
		}

		m.TotalSupply = newTotalSupply
		m.Cash = newCash
		if err := m.RefreshRates(); err != nil {
			return nil, failFrom(err, "supply: rate refresh"), nil
		}

		ok, err = e.transfer.TransferIn(tok, op.Caller, amount)
		if err != nil {
			return nil, nil, fmt.Errorf("supply: transfer in aborted: %w", err)
		}
		if !ok {
			return nil, fail(KindTokenTransferFailed, "supply: transfer in"), nil
		}

		e.markets[asset] = m
		e.accounts.SetBalance(op.Caller, asset, state.SideSupply, newBalance, fpmath.NewExp(m.SupplyIndex))
		e.updateMarketMetrics(m)

		return &event.SupplyReceived{
			RequestID:       op.RequestID,
			Account:         op.Caller,
			Market:          asset,
			Amount:          amount.Dec(),
			StartingBalance: startingBalance.Dec(),
			NewBalance:      newBalance.Dec(),
		}, nil, nil
	})
}

// Withdraw pays out part or all of the caller's supply balance. Suspended
// markets remain withdrawable. The max sentinel withdraws
// min(balance, liquidity/price).
func (e *LedgerEngine) Withdraw(op Op, asset string, amount Amount) error {
	return e.run(op, "withdraw", asset, func() (event.Event, *Failure, error) {
		if e.paused {
			return nil, fail(KindContractPaused, "withdraw: pause check"), nil
		}
		market, ok := e.markets[asset]
		if !ok {
			return nil, fail(KindMarketNotSupported, "withdraw: market check"), nil
		}
		tok, ok := e.tokens.TokenFor(asset)
		if !ok {
			return nil, fail(KindMarketNotSupported, "withdraw: token lookup"), nil
		}

		m := market.Clone()
		if err := m.Accrue(e.blockNumber); err != nil {
			return nil, failFrom(err, "withdraw: market accrual"), nil
		}
		accruedBalance, err := e.accounts.AccruedBalance(op.Caller, asset, state.SideSupply, fpmath.NewExp(m.SupplyIndex))
		if err != nil {
			return nil, failFrom(err, "withdraw: balance accrual"), nil
		}

		liq, err := risk.CalculateAccountLiquidity(op.Caller, e.riskView())
		if err != nil {
			return nil, failFrom(err, "withdraw: liquidity calculation"), nil
		}
		// A shortfall blocks any withdrawal, including a zero-amount one.
		if liq.HasShortfall() {
			return nil, fail(KindInsufficientLiquidity, "withdraw: shortfall present"), nil
		}

		price := e.assetPrice(asset)

		var withdrawAmount *uint256.Int
		if amount.Max {
			if price.IsZero() {
				// Capacity = liquidity/price is undefined for an unpriced
				// asset.
				return nil, fail(KindDivisionByZero, "withdraw: max capacity calculation"), nil
			}
			capacityExp, err := fpmath.DivExp(liq.Liquidity, price)
			if err != nil {
				return nil, failFrom(err, "withdraw: max capacity calculation"), nil
			}
			capacity := fpmath.Truncate(capacityExp)
			withdrawAmount = accruedBalance.Clone()
			if capacity.Lt(withdrawAmount) {
				withdrawAmount = capacity
			}
		} else {
			withdrawAmount = amount.Value.Clone()
		}

		if withdrawAmount.Gt(m.Cash) {
			return nil, fail(KindTokenInsufficientCash, "withdraw: cash check"), nil
		}
		newBalance, err := fpmath.Sub(accruedBalance, withdrawAmount)
		if err != nil {
			return nil, fail(KindInsufficientBalance, "withdraw: balance check"), nil
		}
		withdrawValue, err := fpmath.MulScalar(price, withdrawAmount)
		if err != nil {
			return nil, failFrom(err, "withdraw: value calculation"), nil
		}
		if withdrawValue.Cmp(liq.Liquidity) > 0 {
			return nil, fail(KindInsufficientLiquidity, "withdraw: would create shortfall"), nil
		}

		newTotalSupply, err := fpmath.AddThenSub(m.TotalSupply, newBalance, accruedBalance)
		if err != nil {
			return nil, failFrom(err, "withdraw: new total supply calculation"), nil
		}
		newCash, err := fpmath.Sub(m.Cash, withdrawAmount)
		if err != nil {
			return nil, failFrom(err, "withdraw: new total cash calculation"), nil
		}

		m.TotalSupply = newTotalSupply
		m.Cash = newCash
		if err := m.RefreshRates(); err != nil {
			return nil, failFrom(err, "withdraw: rate refresh"), nil
		}

		ok, err = e.transfer.TransferOut(tok, op.Caller, withdrawAmount)
		if err != nil {
			return nil, nil, fmt.Errorf("withdraw: transfer out aborted: %w", err)
		}
		if !ok {
			return nil, fail(KindTokenTransferOutFailed, "withdraw: transfer out"), nil
		}

		e.markets[asset] = m
		e.accounts.SetBalance(op.Caller, asset, state.SideSupply, newBalance, fpmath.NewExp(m.SupplyIndex))
		e.updateMarketMetrics(m)

		return &event.SupplyWithdrawn{
			RequestID:       op.RequestID,
			Account:         op.Caller,
			Market:          asset,
			Amount:          withdrawAmount.Dec(),
			StartingBalance: accruedBalance.Dec(),
			NewBalance:      newBalance.Dec(),
		}, nil, nil
	})
}

// Borrow draws amount of asset against the caller's collateral. The
// origination fee is added to the debt but retained by the market as equity,
// so only amount itself is paid out.
func (e *LedgerEngine) Borrow(op Op, asset string, amount *uint256.Int) error {
	return e.run(op, "borrow", asset, func() (event.Event, *Failure, error) {
		if e.paused {
			return nil, fail(KindContractPaused, "borrow: pause check"), nil
		}
		market, ok := e.markets[asset]
		if !ok || !market.Supported {
			return nil, fail(KindMarketNotSupported, "borrow: market check"), nil
		}
		tok, ok := e.tokens.TokenFor(asset)
		if !ok {
			return nil, fail(KindMarketNotSupported, "borrow: token lookup"), nil
		}

		m := market.Clone()
		if err := m.Accrue(e.blockNumber); err != nil {
			return nil, failFrom(err, "borrow: market accrual"), nil
		}
		startingBalance, err := e.accounts.AccruedBalance(op.Caller, asset, state.SideBorrow, fpmath.NewExp(m.BorrowIndex))
		if err != nil {
			return nil, failFrom(err, "borrow: balance accrual"), nil
		}

		amountWithFee, err := fpmath.MulScalarTruncateAdd(e.params.OriginationFee, amount, amount)
		if err != nil {
			return nil, failFrom(err, "borrow: origination fee calculation"), nil
		}
		newBalance, err := fpmath.Add(startingBalance, amountWithFee)
		if err != nil {
			return nil, failFrom(err, "borrow: new balance calculation"), nil
		}

		price := e.assetPrice(asset)
		if price.IsZero() {
			return nil, fail(KindMissingAssetPrice, "borrow: price check"), nil
		}
		borrowValue, err := fpmath.MulScalar(price, amountWithFee)
		if err != nil {
			return nil, failFrom(err, "borrow: value calculation"), nil
		}

		liq, err := risk.CalculateAccountLiquidity(op.Caller, e.riskView())
		if err != nil {
			return nil, failFrom(err, "borrow: liquidity calculation"), nil
		}
		if liq.HasShortfall() {
			return nil, fail(KindInsufficientLiquidity, "borrow: shortfall present"), nil
		}
		if borrowValue.Cmp(liq.Liquidity) > 0 {
			return nil, fail(KindInsufficientLiquidity, "borrow: would create shortfall"), nil
		}

		if amount.Gt(m.Cash) {
			return nil, fail(KindTokenInsufficientCash, "borrow: cash check"), nil
		}
		newTotalBorrows, err := fpmath.AddThenSub(m.TotalBorrows, newBalance, startingBalance)
		if err != nil {
			return nil, failFrom(err, "borrow: new total borrows calculation"), nil
		}
		newCash, err := fpmath.Sub(m.Cash, amount)
		if err != nil {
			return nil, failFrom(err, "borrow: new total cash calculation"), nil
		}

		m.TotalBorrows = newTotalBorrows
		m.Cash = newCash
		if err := m.RefreshRates(); err != nil {
			return nil, failFrom(err, "borrow: rate refresh"), nil
		}

		ok, err = e.transfer.TransferOut(tok, op.Caller, amount)
		if err != nil {
			return nil, nil, fmt.Errorf("borrow: transfer out aborted: %w", err)
		}
		if !ok {
			return nil, fail(KindTokenTransferOutFailed, "borrow: transfer out"), nil
		}

		e.markets[asset] = m
		e.accounts.SetBalance(op.Caller, asset, state.SideBorrow, newBalance, fpmath.NewExp(m.BorrowIndex))
		e.updateMarketMetrics(m)

		return &event.BorrowTaken{
			RequestID:       op.RequestID,
			Account:         op.Caller,
			Market:          asset,
			Amount:          amount.Dec(),
			AmountWithFee:   amountWithFee.Dec(),
			StartingBalance: startingBalance.Dec(),
			NewBalance:      newBalance.Dec(),
		}, nil, nil
	})
}

// RepayBorrow pays down the caller's borrow balance. The max sentinel repays
// min(borrow balance, caller's token balance). Suspended markets remain
// repayable.
func (e *LedgerEngine) RepayBorrow(op Op, asset string, amount Amount) error {
	return e.run(op, "repay_borrow", asset, func() (event.Event, *Failure, error) {
		if e.paused {
			return nil, fail(KindContractPaused, "repay: pause check"), nil
		}
		market, ok := e.markets[asset]
		if !ok {
			return nil, fail(KindMarketNotSupported, "repay: market check"), nil
		}
		tok, ok := e.tokens.TokenFor(asset)
		if !ok {
			return nil, fail(KindMarketNotSupported, "repay: token lookup"), nil
		}

		m := market.Clone()
		if err := m.Accrue(e.blockNumber); err != nil {
			return nil, failFrom(err, "repay: market accrual"), nil
		}
		startingBalance, err := e.accounts.AccruedBalance(op.Caller, asset, state.SideBorrow, fpmath.NewExp(m.BorrowIndex))
		if err != nil {
			return nil, failFrom(err, "repay: balance accrual"), nil
		}

		var repayAmount *uint256.Int
		if amount.Max {
			callerBalance, err := tok.BalanceOf(op.Caller)
			if err != nil {
				return nil, nil, fmt.Errorf("repay: token balance read aborted: %w", err)
			}
			repayAmount = startingBalance.Clone()
			if callerBalance.Lt(repayAmount) {
				repayAmount = callerBalance
			}
		} else {
			repayAmount = amount.Value.Clone()
		}

		check, err := e.transfer.CheckTransferIn(tok, op.Caller, repayAmount)
		if err != nil {
			return nil, nil, fmt.Errorf("repay: token check aborted: %w", err)
		}
		switch check {
		case token.CheckInsufficientBalance:
			return nil, fail(KindTokenInsufficientBalance, "repay: transfer-in check"), nil
		case token.CheckInsufficientAllowance:
			return nil, fail(KindTokenInsufficientAllowance, "repay: transfer-in check"), nil
		}

		newBalance, err := fpmath.Sub(startingBalance, repayAmount)
		if err != nil {
			return nil, failFrom(err, "repay: new balance calculation"), nil
		}
		newTotalBorrows, err := fpmath.AddThenSub(m.TotalBorrows, newBalance, startingBalance)
		if err != nil {
			return nil, failFrom(err, "repay: new total borrows calculation"), nil
		}
		newCash, err := fpmath.Add(m.Cash, repayAmount)
		if err != nil {
			return nil, failFrom(err, "repay: new total cash calculation"), nil
		}

		m.TotalBorrows = newTotalBorrows
		m.Cash = newCash
		if err := m.RefreshRates(); err != nil {
			return nil, failFrom(err, "repay: rate refresh"), nil
		}

		ok, err = e.transfer.TransferIn(tok, op.Caller, repayAmount)
		if err != nil {
			return nil, nil, fmt.Errorf("repay: transfer in aborted: %w", err)
		}
		if !ok {
			return nil, fail(KindTokenTransferFailed, "repay: transfer in"), nil
		}

		e.markets[asset] = m
		e.accounts.SetBalance(op.Caller, asset, state.SideBorrow, newBalance, fpmath.NewExp(m.BorrowIndex))
		e.updateMarketMetrics(m)

		return &event.BorrowRepaid{
			RequestID:       op.RequestID,
			Account:         op.Caller,
			Market:          asset,
			Amount:          repayAmount.Dec(),
			StartingBalance: startingBalance.Dec(),
			NewBalance:      newBalance.Dec(),
		}, nil, nil
	})
}

// SetBlockNumber advances the ledger's block counter. Time is an external
// input; the counter never moves backwards.
func (e *LedgerEngine) SetBlockNumber(op Op, block uint64) error {
	return e.run(op, "set_block_number", "", func() (event.Event, *Failure, error) {
		if block < e.blockNumber {
			return nil, fail(KindIntegerUnderflow, "set block number: monotonicity check"), nil
		}
		e.blockNumber = block
		if e.metrics != nil {
			e.metrics.EngineBlock.Set(float64(block))
		}
		return &event.BlockAdvanced{RequestID: op.RequestID, Block: block}, nil, nil
	})
}

// --- Read-side accessors ---

// CurrentBlock returns the ledger block counter.
func (e *LedgerEngine) CurrentBlock() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blockNumber
}

// MarketState returns a copy of the market for asset.
func (e *LedgerEngine) MarketState(asset string) (*state.Market, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.markets[asset]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// ListMarkets returns every listed asset in first-support order.
func (e *LedgerEngine) ListMarkets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	assets := make([]string, len(e.collateralAssets))
	copy(assets, e.collateralAssets)
	return assets
}

// SupplyBalance returns the account's supply balance for asset, projected to
// the current block.
func (e *LedgerEngine) SupplyBalance(account, asset string) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.projectedBalance(account, asset, state.SideSupply)
}

// BorrowBalance returns the account's borrow balance for asset, projected to
// the current block.
func (e *LedgerEngine) BorrowBalance(account, asset string) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.projectedBalance(account, asset, state.SideBorrow)
}

func (e *LedgerEngine) projectedBalance(account, asset string, side state.BalanceSide) (*uint256.Int, error) {
	market, ok := e.markets[asset]
	if !ok {
		return new(uint256.Int), nil
	}
	m := market.Clone()
	if err := m.Accrue(e.blockNumber); err != nil {
		return nil, err
	}
	index := m.SupplyIndex
	if side == state.SideBorrow {
		index = m.BorrowIndex
	}
	return e.accounts.AccruedBalance(account, asset, side, fpmath.NewExp(index))
}

// AccountLiquidity returns the signed account liquidity: value and whether it
// is a shortfall.
func (e *LedgerEngine) AccountLiquidity(account string) (fpmath.Exp, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return risk.GetAccountLiquidity(account, e.riskView())
}

// Admin returns the current admin identity.
func (e *LedgerEngine) Admin() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.admin
}

// Paused reports the global pause gate.
func (e *LedgerEngine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// GetSequence returns the next event sequence number.
func (e *LedgerEngine) GetSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// GetStateHash returns the state hash chain tip.
func (e *LedgerEngine) GetStateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// --- Snapshot Restore & Startup ---

// SnapshotState holds the serializable engine state for warm restart.
type SnapshotState struct {
	Sequence         int64
	StateHash        [32]byte
	BlockNumber      uint64
	Markets          map[string]*state.Market
	CollateralAssets []string
	Balances         []state.BalanceRecord
	Params           state.RiskParams
	Admin            string
	PendingAdmin     string
	Paused           bool
	IdempotencyKeys  []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *LedgerEngine) CreateSnapshotState() *SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()

	markets := make(map[string]*state.Market, len(e.markets))
	for asset, m := range e.markets {
		markets[asset] = m.Clone()
	}
	collateral := make([]string, len(e.collateralAssets))
	copy(collateral, e.collateralAssets)

	return &SnapshotState{
		Sequence:         e.sequence - 1,
		StateHash:        e.hasher.GetPrevHash(),
		BlockNumber:      e.blockNumber,
		Markets:          markets,
		CollateralAssets: collateral,
		Balances:         e.accounts.All(),
		Params:           e.params.Clone(),
		Admin:            e.admin,
		PendingAdmin:     e.pendingAdmin,
		Paused:           e.paused,
		IdempotencyKeys:  e.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot restores the engine's in-memory state. Rate models are
// capabilities, not serializable state: models resolves each asset to its
// model on the way back in.
func (e *LedgerEngine) RestoreFromSnapshot(snap *SnapshotState, models func(asset string) state.InterestRateModel) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence = snap.Sequence + 1
	e.hasher.SetPrevHash(snap.StateHash)
	e.blockNumber = snap.BlockNumber

	e.markets = make(map[string]*state.Market, len(snap.Markets))
	for asset, m := range snap.Markets {
		restored := m.Clone()
		if models != nil {
			restored.RateModel = models(asset)
		}
		e.markets[asset] = restored
	}
	e.collateralAssets = make([]string, len(snap.CollateralAssets))
	copy(e.collateralAssets, snap.CollateralAssets)

	e.accounts = state.NewAccountStore()
	for _, r := range snap.Balances {
		e.accounts.Restore(r)
	}

	e.params = snap.Params.Clone()
	e.admin = snap.Admin
	e.pendingAdmin = snap.PendingAdmin
	e.paused = snap.Paused

	if e.metrics != nil {
		e.metrics.EngineSequence.Set(float64(e.sequence))
		e.metrics.EngineBlock.Set(float64(e.blockNumber))
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (e *LedgerEngine) WarmLRU(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.lru.WarmFromKeys(keys)
}
