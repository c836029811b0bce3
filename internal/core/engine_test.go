package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"LendLedger/internal/event"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/state"
	"LendLedger/internal/token"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

const (
	adminAddr  = "admin"
	ledgerAddr = "ledger"
)

type fixedRateModel struct {
	supplyRate uint64
	borrowRate uint64
}

func (m *fixedRateModel) GetSupplyRate(asset string, cash, borrows *uint256.Int) (*uint256.Int, error) {
	return uint256.NewInt(m.supplyRate), nil
}

func (m *fixedRateModel) GetBorrowRate(asset string, cash, borrows *uint256.Int) (*uint256.Int, error) {
	return uint256.NewInt(m.borrowRate), nil
}

type mockOracle struct {
	prices map[string]*uint256.Int
}

func (o *mockOracle) GetAssetPrice(asset string) fpmath.Exp {
	if p, ok := o.prices[asset]; ok {
		return fpmath.NewExp(p.Clone())
	}
	return fpmath.ZeroExp()
}

type mockToken struct {
	balances   map[string]*uint256.Int
	allowances map[string]*uint256.Int
	transferOK bool
	abortErr   error
}

func newMockToken() *mockToken {
	return &mockToken{
		balances:   make(map[string]*uint256.Int),
		allowances: make(map[string]*uint256.Int),
		transferOK: true,
	}
}

func (t *mockToken) bal(account string) *uint256.Int {
	if b, ok := t.balances[account]; ok {
		return b
	}
	return new(uint256.Int)
}

func (t *mockToken) setBalance(account string, amount uint64) {
	t.balances[account] = uint256.NewInt(amount)
}

func (t *mockToken) approve(owner string, amount uint64) {
	t.allowances[owner] = uint256.NewInt(amount)
}

func (t *mockToken) BalanceOf(account string) (*uint256.Int, error) {
	if t.abortErr != nil {
		return nil, t.abortErr
	}
	return t.bal(account).Clone(), nil
}

func (t *mockToken) Allowance(owner, spender string) (*uint256.Int, error) {
	if t.abortErr != nil {
		return nil, t.abortErr
	}
	if a, ok := t.allowances[owner]; ok {
		return a.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (t *mockToken) TransferFrom(from, to string, amount *uint256.Int) (bool, error) {
	if t.abortErr != nil {
		return false, t.abortErr
	}
	if !t.transferOK {
		return false, nil
	}
	fromBal := t.bal(from)
	allowance, _ := t.Allowance(from, to)
	if fromBal.Lt(amount) || allowance.Lt(amount) {
		return false, nil
	}
	t.balances[from] = new(uint256.Int).Sub(fromBal, amount)
	t.balances[to] = new(uint256.Int).Add(t.bal(to), amount)
	t.allowances[from] = new(uint256.Int).Sub(allowance, amount)
	return true, nil
}

func (t *mockToken) Transfer(to string, amount *uint256.Int) (bool, error) {
	if t.abortErr != nil {
		return false, t.abortErr
	}
	if !t.transferOK {
		return false, nil
	}
	ledgerBal := t.bal(ledgerAddr)
	if ledgerBal.Lt(amount) {
		return false, nil
	}
	t.balances[ledgerAddr] = new(uint256.Int).Sub(ledgerBal, amount)
	t.balances[to] = new(uint256.Int).Add(t.bal(to), amount)
	return true, nil
}

type tokenMap map[string]token.Token

func (m tokenMap) TokenFor(asset string) (token.Token, bool) {
	t, ok := m[asset]
	return t, ok
}

type testEnv struct {
	t       *testing.T
	engine  *LedgerEngine
	persist chan CoreOutput
	oracle  *mockOracle
	tokens  tokenMap
	model   *fixedRateModel
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	persist := make(chan CoreOutput, 256)
	projection := make(chan CoreOutput, 256)
	tokens := tokenMap{}
	engine := NewLedgerEngine(EngineConfig{
		Admin:               adminAddr,
		LedgerAddress:       ledgerAddr,
		Tokens:              tokens,
		IdempotencyCapacity: 64,
	}, persist, projection, nil, nil)

	env := &testEnv{
		t:       t,
		engine:  engine,
		persist: persist,
		oracle:  &mockOracle{prices: make(map[string]*uint256.Int)},
		tokens:  tokens,
		model:   &fixedRateModel{},
	}
	env.mustRun(engine.SetOracle(env.op(adminAddr), "test-oracle", env.oracle))
	return env
}

func (env *testEnv) op(caller string) Op {
	return Op{RequestID: uuid.New(), Caller: caller, Timestamp: time.Unix(1_700_000_000, 0)}
}

func (env *testEnv) mustRun(err error) {
	env.t.Helper()
	if err != nil {
		env.t.Fatalf("operation failed: %v", err)
	}
}

func (env *testEnv) setPrice(asset string, mantissa uint64) {
	env.oracle.prices[asset] = uint256.NewInt(mantissa)
}

// addMarket supports asset with a unit price (unless one was set already) and
// registers a fresh token for it.
func (env *testEnv) addMarket(asset string) *mockToken {
	env.t.Helper()
	tok := newMockToken()
	env.tokens[asset] = tok
	if _, ok := env.oracle.prices[asset]; !ok {
		env.setPrice(asset, fpmath.ExpScaleUint)
	}
	env.mustRun(env.engine.SupportMarket(env.op(adminAddr), asset, env.model))
	return tok
}

func (env *testEnv) fund(tok *mockToken, account string, amount uint64) {
	tok.setBalance(account, amount)
	tok.approve(account, amount)
}

func (env *testEnv) drain() []*event.Envelope {
	var out []*event.Envelope
	for {
		select {
		case o := <-env.persist:
			out = append(out, o.Envelope)
		default:
			return out
		}
	}
}

func (env *testEnv) lastEnvelope() *event.Envelope {
	env.t.Helper()
	all := env.drain()
	if len(all) == 0 {
		env.t.Fatal("no envelopes emitted")
	}
	return all[len(all)-1]
}

func (env *testEnv) mustMarket(asset string) *state.Market {
	env.t.Helper()
	m, ok := env.engine.MarketState(asset)
	if !ok {
		env.t.Fatalf("market %s missing", asset)
	}
	return m
}

func assertFailure(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected tagged failure, got %v", err)
	}
	if f.Kind != kind {
		t.Fatalf("failure kind = %s, want %s (stage %q)", f.Kind, kind, f.Stage)
	}
}

func mustBalance(t *testing.T, got *uint256.Int, err error, want uint64) {
	t.Helper()
	if err != nil {
		t.Fatalf("balance read failed: %v", err)
	}
	if !got.Eq(uint256.NewInt(want)) {
		t.Fatalf("balance = %s, want %d", got.Dec(), want)
	}
}

func TestSupplyCreditsBalanceAndCash(t *testing.T) {
	env := newTestEnv(t)
	env.setPrice("omg", fpmath.ExpScaleUint/2)
	tok := env.addMarket("omg")
	env.fund(tok, "alice", 1000)
	env.drain()

	env.mustRun(env.engine.Supply(env.op("alice"), "omg", uint256.NewInt(90)))

	m := env.mustMarket("omg")
	if !m.Cash.Eq(uint256.NewInt(90)) || !m.TotalSupply.Eq(uint256.NewInt(90)) {
		t.Fatalf("market cash/supply = %s/%s, want 90/90", m.Cash.Dec(), m.TotalSupply.Dec())
	}
	bal, err := env.engine.SupplyBalance("alice", "omg")
	mustBalance(t, bal, err, 90)

	if !tok.bal(ledgerAddr).Eq(uint256.NewInt(90)) || !tok.bal("alice").Eq(uint256.NewInt(910)) {
		t.Fatalf("token balances = ledger %s, alice %s", tok.bal(ledgerAddr).Dec(), tok.bal("alice").Dec())
	}

	envlp := env.lastEnvelope()
	if envlp.EventType != event.EventTypeSupplyReceived {
		t.Fatalf("event type = %s", envlp.EventType)
	}
	var ev event.SupplyReceived
	if err := json.Unmarshal(envlp.Payload, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ev.Amount != "90" || ev.StartingBalance != "0" || ev.NewBalance != "90" {
		t.Fatalf("payload = %+v", ev)
	}
}

func TestSupplyRejectsUnknownMarket(t *testing.T) {
	env := newTestEnv(t)
	env.drain()

	err := env.engine.Supply(env.op("alice"), "unknown", uint256.NewInt(10))
	assertFailure(t, err, KindMarketNotSupported)

	envlp := env.lastEnvelope()
	if envlp.EventType != event.EventTypeFailure {
		t.Fatalf("expected Failure event, got %s", envlp.EventType)
	}
	var ev event.Failure
	if err := json.Unmarshal(envlp.Payload, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ev.Kind != "MARKET_NOT_SUPPORTED" || ev.Operation != "supply" {
		t.Fatalf("payload = %+v", ev)
	}
}

func TestSupplyRejectsWhenPaused(t *testing.T) {
	env := newTestEnv(t)
	tok := env.addMarket("omg")
	env.fund(tok, "alice", 100)
	env.mustRun(env.engine.SetPaused(env.op(adminAddr), true))

	err := env.engine.Supply(env.op("alice"), "omg", uint256.NewInt(10))
	assertFailure(t, err, KindContractPaused)

	env.mustRun(env.engine.SetPaused(env.op(adminAddr), false))
	env.mustRun(env.engine.Supply(env.op("alice"), "omg", uint256.NewInt(10)))
}

func TestSupplyInsufficientAllowance(t *testing.T) {
	env := newTestEnv(t)
	tok := env.addMarket("omg")
	tok.setBalance("alice", 100)
	tok.approve("alice", 50)

	err := env.engine.Supply(env.op("alice"), "omg", uint256.NewInt(80))
	assertFailure(t, err, KindTokenInsufficientAllowance)

	m := env.mustMarket("omg")
	if !m.Cash.IsZero() {
		t.Fatalf("cash mutated on failed supply: %s", m.Cash.Dec())
	}
}

func TestSupplyStandardTokenFailureCommitsNothing(t *testing.T) {
	env := newTestEnv(t)
	tok := env.addMarket("omg")
	env.fund(tok, "alice", 100)
	// The pre-transfer check passes; only the transfer itself reports false.
	tok.transferOK = false

	err := env.engine.Supply(env.op("alice"), "omg", uint256.NewInt(50))
	assertFailure(t, err, KindTokenTransferFailed)

	m := env.mustMarket("omg")
	if !m.Cash.IsZero() || !m.TotalSupply.IsZero() {
		t.Fatalf("market mutated on failed transfer: cash %s supply %s", m.Cash.Dec(), m.TotalSupply.Dec())
	}
	bal, err2 := env.engine.SupplyBalance("alice", "omg")
	mustBalance(t, bal, err2, 0)
}

func TestSupplyNonStandardAbortEmitsNoEvent(t *testing.T) {
	env := newTestEnv(t)
	tok := env.addMarket("omg")
	env.fund(tok, "alice", 100)
	env.drain()

	abort := errors.New("token reverted")
	tok.abortErr = abort
	seqBefore := env.engine.GetSequence()

	err := env.engine.Supply(env.op("alice"), "omg", uint256.NewInt(50))
	if !errors.Is(err, abort) {
		t.Fatalf("expected wrapped abort, got %v", err)
	}
	var f *Failure
	if errors.As(err, &f) {
		t.Fatalf("abort must not be a tagged failure: %v", f)
	}
	if got := env.drain(); len(got) != 0 {
		t.Fatalf("abort emitted %d events", len(got))
	}
	if env.engine.GetSequence() != seqBefore {
		t.Fatal("sequence advanced on abort")
	}
}

func TestWithdrawMaxIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	tok := env.addMarket("omg")
	env.fund(tok, "alice", 500)
	env.mustRun(env.engine.Supply(env.op("alice"), "omg", uint256.NewInt(500)))
	env.drain()

	env.mustRun(env.engine.Withdraw(env.op("alice"), "omg", MaxAmount()))
	bal, err := env.engine.SupplyBalance("alice", "omg")
	mustBalance(t, bal, err, 0)
	if !tok.bal("alice").Eq(uint256.NewInt(500)) {
		t.Fatalf("alice token balance = %s, want 500", tok.bal("alice").Dec())
	}

	// A second max withdraw moves nothing and still succeeds.
	env.drain()
	env.mustRun(env.engine.Withdraw(env.op("alice"), "omg", MaxAmount()))
	var ev event.SupplyWithdrawn
	if err := json.Unmarshal(env.lastEnvelope().Payload, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ev.Amount != "0" {
		t.Fatalf("second max withdraw amount = %s, want 0", ev.Amount)
	}
}

func TestWithdrawMoreThanBalance(t *testing.T) {
	env := newTestEnv(t)
	tok := env.addMarket("omg")
	env.fund(tok, "alice", 100)
	env.mustRun(env.engine.Supply(env.op("alice"), "omg", uint256.NewInt(100)))

	err := env.engine.Withdraw(env.op("alice"), "omg", ExactAmount(uint256.NewInt(200)))
	assertFailure(t, err, KindInsufficientBalance)
}

func TestWithdrawBlockedByShortfall(t *testing.T) {
	env := newTestEnv(t)
	ethTok := env.addMarket("eth")
	omgTok := env.addMarket("omg")
	env.fund(ethTok, "alice", 100)
	env.fund(omgTok, "whale", 1000)

	env.mustRun(env.engine.Supply(env.op("whale"), "omg", uint256.NewInt(1000)))
	env.mustRun(env.engine.Supply(env.op("alice"), "eth", uint256.NewInt(100)))
	env.mustRun(env.engine.Borrow(env.op("alice"), "omg", uint256.NewInt(50)))

	// Collateral price halves: 50 supplied value vs 100 effective borrows.
	env.setPrice("eth", fpmath.ExpScaleUint/2)

	err := env.engine.Withdraw(env.op("alice"), "eth", ExactAmount(uint256.NewInt(1)))
	assertFailure(t, err, KindInsufficientLiquidity)
}

func TestBorrowRequiresLiquidity(t *testing.T) {
	env := newTestEnv(t)
	ethTok := env.addMarket("eth")
	omgTok := env.addMarket("omg")
	env.fund(ethTok, "alice", 100)
	env.fund(omgTok, "whale", 1000)

	env.mustRun(env.engine.Supply(env.op("whale"), "omg", uint256.NewInt(1000)))
	env.mustRun(env.engine.Supply(env.op("alice"), "eth", uint256.NewInt(100)))

	err := env.engine.Borrow(env.op("alice"), "omg", uint256.NewInt(101))
	assertFailure(t, err, KindInsufficientLiquidity)

	env.mustRun(env.engine.Borrow(env.op("alice"), "omg", uint256.NewInt(100)))
	bal, err2 := env.engine.BorrowBalance("alice", "omg")
	mustBalance(t, bal, err2, 100)
}

func TestBorrowOriginationFeeRetainedAsEquity(t *testing.T) {
	env := newTestEnv(t)
	ethTok := env.addMarket("eth")
	omgTok := env.addMarket("omg")
	env.fund(ethTok, "alice", 1000)
	env.fund(omgTok, "whale", 1000)
	env.mustRun(env.engine.SetOriginationFee(env.op(adminAddr), fpmath.NewExp(uint256.NewInt(fpmath.ExpScaleUint/10))))

	env.mustRun(env.engine.Supply(env.op("whale"), "omg", uint256.NewInt(1000)))
	env.mustRun(env.engine.Supply(env.op("alice"), "eth", uint256.NewInt(1000)))
	env.drain()
	env.mustRun(env.engine.Borrow(env.op("alice"), "omg", uint256.NewInt(100)))

	// Debt carries the 10% fee; only the principal is paid out.
	bal, err := env.engine.BorrowBalance("alice", "omg")
	mustBalance(t, bal, err, 110)
	if !omgTok.bal("alice").Eq(uint256.NewInt(100)) {
		t.Fatalf("alice received %s, want 100", omgTok.bal("alice").Dec())
	}

	m := env.mustMarket("omg")
	equity, err2 := fpmath.AddThenSub(m.Cash, m.TotalBorrows, m.TotalSupply)
	if err2 != nil {
		t.Fatalf("equity calc: %v", err2)
	}
	if !equity.Eq(uint256.NewInt(10)) {
		t.Fatalf("equity = %s, want 10", equity.Dec())
	}

	var ev event.BorrowTaken
	if err := json.Unmarshal(env.lastEnvelope().Payload, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ev.Amount != "100" || ev.AmountWithFee != "110" {
		t.Fatalf("payload = %+v", ev)
	}
}

func TestSuspendedMarketBlocksBorrowNotWithdraw(t *testing.T) {
	env := newTestEnv(t)
	tok := env.addMarket("omg")
	env.fund(tok, "whale", 1000)
	env.mustRun(env.engine.Supply(env.op("whale"), "omg", uint256.NewInt(1000)))

	env.mustRun(env.engine.SuspendMarket(env.op(adminAddr), "omg"))

	err := env.engine.Borrow(env.op("whale"), "omg", uint256.NewInt(10))
	assertFailure(t, err, KindMarketNotSupported)
	err = env.engine.Supply(env.op("whale"), "omg", uint256.NewInt(10))
	assertFailure(t, err, KindMarketNotSupported)

	env.mustRun(env.engine.Withdraw(env.op("whale"), "omg", ExactAmount(uint256.NewInt(10))))
}

func TestRepayBorrowMax(t *testing.T) {
	env := newTestEnv(t)
	ethTok := env.addMarket("eth")
	omgTok := env.addMarket("omg")
	env.fund(ethTok, "alice", 1000)
	env.fund(omgTok, "whale", 1000)

	env.mustRun(env.engine.Supply(env.op("whale"), "omg", uint256.NewInt(1000)))
	env.mustRun(env.engine.Supply(env.op("alice"), "eth", uint256.NewInt(1000)))
	env.mustRun(env.engine.Borrow(env.op("alice"), "omg", uint256.NewInt(100)))

	omgTok.approve("alice", 100)
	env.mustRun(env.engine.RepayBorrow(env.op("alice"), "omg", MaxAmount()))

	bal, err := env.engine.BorrowBalance("alice", "omg")
	mustBalance(t, bal, err, 0)
	m := env.mustMarket("omg")
	if !m.TotalBorrows.IsZero() || !m.Cash.Eq(uint256.NewInt(1000)) {
		t.Fatalf("market borrows/cash = %s/%s, want 0/1000", m.TotalBorrows.Dec(), m.Cash.Dec())
	}
}

func TestRepayExactOverBalanceUnderflows(t *testing.T) {
	env := newTestEnv(t)
	ethTok := env.addMarket("eth")
	omgTok := env.addMarket("omg")
	env.fund(ethTok, "alice", 1000)
	env.fund(omgTok, "whale", 1000)

	env.mustRun(env.engine.Supply(env.op("whale"), "omg", uint256.NewInt(1000)))
	env.mustRun(env.engine.Supply(env.op("alice"), "eth", uint256.NewInt(1000)))
	env.mustRun(env.engine.Borrow(env.op("alice"), "omg", uint256.NewInt(100)))

	env.fund(omgTok, "alice", 500)
	err := env.engine.RepayBorrow(env.op("alice"), "omg", ExactAmount(uint256.NewInt(150)))
	assertFailure(t, err, KindIntegerUnderflow)
}

func TestInterestAccrualAcrossBlocks(t *testing.T) {
	env := newTestEnv(t)
	// 0.5% supply and 1% borrow interest per block.
	env.model.supplyRate = fpmath.ExpScaleUint / 200
	env.model.borrowRate = fpmath.ExpScaleUint / 100

	ethTok := env.addMarket("eth")
	omgTok := env.addMarket("omg")
	env.fund(ethTok, "alice", 1000)
	env.fund(omgTok, "whale", 1000)

	env.mustRun(env.engine.Supply(env.op("whale"), "omg", uint256.NewInt(1000)))
	env.mustRun(env.engine.Supply(env.op("alice"), "eth", uint256.NewInt(1000)))
	env.mustRun(env.engine.Borrow(env.op("alice"), "omg", uint256.NewInt(100)))

	env.mustRun(env.engine.SetBlockNumber(env.op(adminAddr), 10))

	// Simple interest over the 10-block gap: 1000 * (1 + 0.005*10) and
	// 100 * (1 + 0.01*10).
	bal, err := env.engine.SupplyBalance("whale", "omg")
	mustBalance(t, bal, err, 1050)
	bal, err = env.engine.BorrowBalance("alice", "omg")
	mustBalance(t, bal, err, 110)

	indexBefore := env.mustMarket("omg").SupplyIndex
	env.mustRun(env.engine.SetBlockNumber(env.op(adminAddr), 20))
	env.mustRun(env.engine.Supply(env.op("whale"), "omg", uint256.NewInt(0)))
	indexAfter := env.mustMarket("omg").SupplyIndex
	if indexAfter.Lt(indexBefore) {
		t.Fatalf("supply index decreased: %s -> %s", indexBefore.Dec(), indexAfter.Dec())
	}
}

func TestSetBlockNumberBackwards(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(env.engine.SetBlockNumber(env.op(adminAddr), 50))

	err := env.engine.SetBlockNumber(env.op(adminAddr), 49)
	assertFailure(t, err, KindIntegerUnderflow)
	if env.engine.CurrentBlock() != 50 {
		t.Fatalf("block = %d, want 50", env.engine.CurrentBlock())
	}
}

func TestDuplicateRequestIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	tok := env.addMarket("omg")
	env.fund(tok, "alice", 1000)
	env.drain()

	op := env.op("alice")
	env.mustRun(env.engine.Supply(op, "omg", uint256.NewInt(100)))
	env.mustRun(env.engine.Supply(op, "omg", uint256.NewInt(100)))

	bal, err := env.engine.SupplyBalance("alice", "omg")
	mustBalance(t, bal, err, 100)
	if got := env.drain(); len(got) != 1 {
		t.Fatalf("emitted %d events for duplicate request, want 1", len(got))
	}
}

func TestStateHashChainLinks(t *testing.T) {
	env := newTestEnv(t)
	tok := env.addMarket("omg")
	env.fund(tok, "alice", 1000)
	env.mustRun(env.engine.Supply(env.op("alice"), "omg", uint256.NewInt(100)))
	env.mustRun(env.engine.Withdraw(env.op("alice"), "omg", ExactAmount(uint256.NewInt(40))))

	envelopes := env.drain()
	if len(envelopes) < 3 {
		t.Fatalf("expected at least 3 envelopes, got %d", len(envelopes))
	}
	for i, e := range envelopes {
		if e.Sequence != int64(i) {
			t.Fatalf("envelope %d has sequence %d", i, e.Sequence)
		}
		if i > 0 && e.PrevHash != envelopes[i-1].StateHash {
			t.Fatalf("envelope %d prev hash does not link to envelope %d", i, i-1)
		}
		if e.StateHash == ([32]byte{}) {
			t.Fatalf("envelope %d has zero state hash", i)
		}
	}
	if env.engine.GetStateHash() != envelopes[len(envelopes)-1].StateHash {
		t.Fatal("engine chain tip does not match last envelope")
	}
}

func TestAdminAuthorization(t *testing.T) {
	env := newTestEnv(t)

	err := env.engine.SetPaused(env.op("mallory"), true)
	assertFailure(t, err, KindUnauthorized)
	err = env.engine.SupportMarket(env.op("mallory"), "omg", env.model)
	assertFailure(t, err, KindUnauthorized)

	// Two-step handover.
	env.mustRun(env.engine.SetPendingAdmin(env.op(adminAddr), "successor"))
	err = env.engine.AcceptAdmin(env.op("mallory"))
	assertFailure(t, err, KindUnauthorized)
	env.mustRun(env.engine.AcceptAdmin(env.op("successor")))
	if env.engine.Admin() != "successor" {
		t.Fatalf("admin = %s, want successor", env.engine.Admin())
	}

	// The old admin lost its powers.
	err = env.engine.SetPaused(env.op(adminAddr), true)
	assertFailure(t, err, KindUnauthorized)
	env.mustRun(env.engine.SetPaused(env.op("successor"), true))
}

func TestSetRiskParametersBounds(t *testing.T) {
	env := newTestEnv(t)
	one := fpmath.OneExp()
	ratio23 := fpmath.NewExp(uint256.NewInt(2_300_000_000_000_000_000))
	discount5 := fpmath.NewExp(uint256.NewInt(fpmath.ExpScaleUint / 20))
	discount11 := fpmath.NewExp(uint256.NewInt(110_000_000_000_000_000))

	err := env.engine.SetRiskParameters(env.op(adminAddr), one, discount5)
	assertFailure(t, err, KindInvalidCollateralRatio)

	err = env.engine.SetRiskParameters(env.op(adminAddr), ratio23, discount11)
	assertFailure(t, err, KindInvalidLiquidationDiscount)

	env.mustRun(env.engine.SetRiskParameters(env.op(adminAddr), ratio23, discount5))
}

func TestWithdrawEquity(t *testing.T) {
	env := newTestEnv(t)
	tok := env.addMarket("omg")

	// Seed aggregates directly: supply 1000, borrows 2000, cash 10000.
	m := env.engine.markets["omg"].Clone()
	m.TotalSupply = uint256.NewInt(1000)
	m.TotalBorrows = uint256.NewInt(2000)
	m.Cash = uint256.NewInt(10000)
	env.engine.markets["omg"] = m
	tok.setBalance(ledgerAddr, 10000)
	env.drain()

	err := env.engine.WithdrawEquity(env.op(adminAddr), "omg", uint256.NewInt(11001))
	assertFailure(t, err, KindEquityInsufficientBalance)

	err = env.engine.WithdrawEquity(env.op("mallory"), "omg", uint256.NewInt(1))
	assertFailure(t, err, KindUnauthorized)

	env.mustRun(env.engine.WithdrawEquity(env.op(adminAddr), "omg", uint256.NewInt(4500)))
	var ev event.EquityWithdrawn
	if err := json.Unmarshal(env.lastEnvelope().Payload, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ev.EquityAvailableBefore != "11000" || ev.Amount != "4500" || ev.Recipient != adminAddr {
		t.Fatalf("payload = %+v", ev)
	}
	if !env.mustMarket("omg").Cash.Eq(uint256.NewInt(5500)) {
		t.Fatalf("cash = %s, want 5500", env.mustMarket("omg").Cash.Dec())
	}
	if !tok.bal(adminAddr).Eq(uint256.NewInt(4500)) {
		t.Fatalf("admin token balance = %s, want 4500", tok.bal(adminAddr).Dec())
	}
}

func TestConservationAcrossOperations(t *testing.T) {
	env := newTestEnv(t)
	env.model.supplyRate = fpmath.ExpScaleUint / 1000
	env.model.borrowRate = fpmath.ExpScaleUint / 500

	ethTok := env.addMarket("eth")
	omgTok := env.addMarket("omg")
	env.fund(ethTok, "alice", 10000)
	env.fund(omgTok, "whale", 10000)
	env.fund(omgTok, "bob", 10000)

	env.mustRun(env.engine.Supply(env.op("whale"), "omg", uint256.NewInt(5000)))
	env.mustRun(env.engine.Supply(env.op("bob"), "omg", uint256.NewInt(3000)))
	env.mustRun(env.engine.Supply(env.op("alice"), "eth", uint256.NewInt(10000)))
	env.mustRun(env.engine.Borrow(env.op("alice"), "omg", uint256.NewInt(2000)))
	env.mustRun(env.engine.SetBlockNumber(env.op(adminAddr), 7))
	env.mustRun(env.engine.Withdraw(env.op("bob"), "omg", ExactAmount(uint256.NewInt(500))))
	omgTok.approve("alice", 1000)
	env.mustRun(env.engine.RepayBorrow(env.op("alice"), "omg", ExactAmount(uint256.NewInt(700))))

	m := env.mustMarket("omg")
	var sumSupplies uint64
	for _, account := range []string{"whale", "bob", "alice"} {
		bal, err := env.engine.SupplyBalance(account, "omg")
		if err != nil {
			t.Fatalf("supply balance %s: %v", account, err)
		}
		sumSupplies += bal.Uint64()
	}
	total := m.TotalSupply.Uint64()
	diff := int64(total) - int64(sumSupplies)
	if diff < -2 || diff > 2 {
		t.Fatalf("supply conservation broken: sum %d vs total %d", sumSupplies, total)
	}

	borrowBal, err := env.engine.BorrowBalance("alice", "omg")
	if err != nil {
		t.Fatalf("borrow balance: %v", err)
	}
	diff = int64(m.TotalBorrows.Uint64()) - int64(borrowBal.Uint64())
	if diff < -2 || diff > 2 {
		t.Fatalf("borrow conservation broken: balance %s vs total %s", borrowBal.Dec(), m.TotalBorrows.Dec())
	}
}

func TestModelFailurePropagatesDetail(t *testing.T) {
	env := newTestEnv(t)
	tok := env.addMarket("omg")
	env.fund(tok, "alice", 1000)
	env.mustRun(env.engine.Supply(env.op("alice"), "omg", uint256.NewInt(100)))

	broken := &failingRateModel{detail: 42}
	env.mustRun(env.engine.SetMarketInterestRateModel(env.op(adminAddr), "omg", broken))
	env.mustRun(env.engine.SetBlockNumber(env.op(adminAddr), 5))

	err := env.engine.Supply(env.op("alice"), "omg", uint256.NewInt(10))
	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("expected tagged failure, got %v", err)
	}
	if f.Kind != KindOpaqueError || f.Detail != 42 {
		t.Fatalf("failure = %+v, want OPAQUE_ERROR detail 42", f)
	}
}

type failingRateModel struct {
	detail uint64
}

func (m *failingRateModel) GetSupplyRate(asset string, cash, borrows *uint256.Int) (*uint256.Int, error) {
	return nil, &state.ModelError{Detail: m.detail}
}

func (m *failingRateModel) GetBorrowRate(asset string, cash, borrows *uint256.Int) (*uint256.Int, error) {
	return nil, &state.ModelError{Detail: m.detail}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	tok := env.addMarket("omg")
	env.fund(tok, "alice", 1000)
	op := env.op("alice")
	env.mustRun(env.engine.Supply(op, "omg", uint256.NewInt(250)))
	env.mustRun(env.engine.SetBlockNumber(env.op(adminAddr), 12))

	snap := env.engine.CreateSnapshotState()

	restored := NewLedgerEngine(EngineConfig{
		Admin:               adminAddr,
		LedgerAddress:       ledgerAddr,
		Tokens:              env.tokens,
		IdempotencyCapacity: 64,
	}, env.persist, make(chan CoreOutput, 16), nil, nil)
	restored.RestoreFromSnapshot(snap, func(asset string) state.InterestRateModel { return env.model })
	restored.WarmLRU(snap.IdempotencyKeys)
	restored.oracle = env.oracle

	if restored.GetSequence() != env.engine.GetSequence() {
		t.Fatalf("sequence = %d, want %d", restored.GetSequence(), env.engine.GetSequence())
	}
	if restored.GetStateHash() != env.engine.GetStateHash() {
		t.Fatal("state hash chain tip not restored")
	}
	if restored.CurrentBlock() != 12 {
		t.Fatalf("block = %d, want 12", restored.CurrentBlock())
	}
	bal, err := restored.SupplyBalance("alice", "omg")
	mustBalance(t, bal, err, 250)

	// The replayed request is still recognized as a duplicate.
	env.drain()
	if err := restored.Supply(op, "omg", uint256.NewInt(250)); err != nil {
		t.Fatalf("replay: %v", err)
	}
	bal, err = restored.SupplyBalance("alice", "omg")
	mustBalance(t, bal, err, 250)
}
