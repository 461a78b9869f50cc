package lending

import (
	"errors"
	"math/big"
	"testing"

	"nftlend/core/events"
	"nftlend/core/types"
	"nftlend/crypto"
)

type memState struct {
	accounts map[string]*types.Account
	pool     *PoolLedger
	debts    map[string]*DebtPosition
	supplies map[string]*SupplyPosition
	order    []string
}

func newMemState() *memState {
	return &memState{
		accounts: make(map[string]*types.Account),
		debts:    make(map[string]*DebtPosition),
		supplies: make(map[string]*SupplyPosition),
	}
}

func (m *memState) GetAccount(addr crypto.Address) (*types.Account, error) {
	if acc, ok := m.accounts[addr.String()]; ok {
		return acc.Clone(), nil
	}
	return &types.Account{}, nil
}

func (m *memState) PutAccount(addr crypto.Address, account *types.Account) error {
	m.accounts[addr.String()] = account.Clone()
	return nil
}

func (m *memState) PoolGet() (*PoolLedger, error) {
	if m.pool == nil {
		return &PoolLedger{}, nil
	}
	return m.pool.Clone(), nil
}

func (m *memState) PoolPut(ledger *PoolLedger) error {
	m.pool = ledger.Clone()
	return nil
}

func (m *memState) DebtGet(addr crypto.Address) (*DebtPosition, bool, error) {
	position, ok := m.debts[addr.String()]
	if !ok {
		return nil, false, nil
	}
	return position.Clone(), true, nil
}

func (m *memState) DebtPut(position *DebtPosition) error {
	m.debts[position.Borrower.String()] = position.Clone()
	return nil
}

func (m *memState) DebtDelete(addr crypto.Address) error {
	delete(m.debts, addr.String())
	return nil
}

func (m *memState) SupplyGet(addr crypto.Address) (*SupplyPosition, bool, error) {
	position, ok := m.supplies[addr.String()]
	if !ok {
		return nil, false, nil
	}
	return position.Clone(), true, nil
}

func (m *memState) SupplyPut(position *SupplyPosition) error {
	key := position.Lender.String()
	if _, ok := m.supplies[key]; !ok {
		m.order = append(m.order, key)
	}
	m.supplies[key] = position.Clone()
	return nil
}

func (m *memState) SupplyDelete(addr crypto.Address) error {
	key := addr.String()
	delete(m.supplies, key)
	for i, existing := range m.order {
		if existing == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memState) SupplyList() ([]*SupplyPosition, error) {
	out := make([]*SupplyPosition, 0, len(m.order))
	for _, key := range m.order {
		if position, ok := m.supplies[key]; ok {
			out = append(out, position.Clone())
		}
	}
	return out, nil
}

type fixedCollateral struct {
	value *big.Int
}

func (f fixedCollateral) CollateralValue(crypto.Address) (*big.Int, error) {
	if f.value == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(f.value), nil
}

func testAddr(t *testing.T, b byte) crypto.Address {
	t.Helper()
	var raw [20]byte
	raw[19] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw[:])
}

func defaultTerms() InterestTerms {
	return InterestTerms{OriginationBps: 1000, PeriodicBps: 200, PeriodSeconds: 30 * 24 * 60 * 60}
}

func defaultParams() RiskParameters {
	return RiskParameters{CollateralFactorBps: 7500, LiquidationThresholdPct: 120}
}

func newTestEngine(t *testing.T, collateralValue int64) (*Engine, *memState, *events.Recorder, crypto.Address) {
	t.Helper()
	state := newMemState()
	recorder := &events.Recorder{}
	pool := crypto.ModuleAddress("lendingpool")
	engine := NewEngine(pool, defaultParams(), defaultTerms())
	engine.SetState(state)
	engine.SetCollateralSource(fixedCollateral{value: big.NewInt(collateralValue)})
	engine.SetEmitter(recorder)
	engine.SetNowFunc(func() int64 { return 1_000_000 })
	return engine, state, recorder, pool
}

func fund(t *testing.T, state *memState, addr crypto.Address, amount int64) {
	t.Helper()
	if err := state.PutAccount(addr, &types.Account{Balance: big.NewInt(amount)}); err != nil {
		t.Fatalf("fund account: %v", err)
	}
}

func balanceOf(t *testing.T, state *memState, addr crypto.Address) *big.Int {
	t.Helper()
	acc, err := state.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	acc.EnsureDefaults()
	return acc.Balance
}

func lastEventOfType(t *testing.T, recorder *events.Recorder, eventType string) *types.Event {
	t.Helper()
	var found *types.Event
	for _, evt := range recorder.Events() {
		if evt.Type == eventType {
			found = evt
		}
	}
	if found == nil {
		t.Fatalf("no %s event emitted", eventType)
	}
	return found
}

func TestSupplyMovesFundsAndEmits(t *testing.T) {
	engine, state, recorder, pool := newTestEngine(t, 0)
	lender := testAddr(t, 1)
	fund(t, state, lender, 100)

	if err := engine.Supply(lender, big.NewInt(40)); err != nil {
		t.Fatalf("supply: %v", err)
	}

	if got := balanceOf(t, state, lender); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("lender balance = %s, want 60", got)
	}
	if got := balanceOf(t, state, pool); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("pool balance = %s, want 40", got)
	}
	ledger, err := engine.Pool()
	if err != nil {
		t.Fatalf("pool ledger: %v", err)
	}
	if ledger.TotalLiquidity.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("total liquidity = %s, want 40", ledger.TotalLiquidity)
	}
	evt := lastEventOfType(t, recorder, EventTypeSupplied)
	if evt.Attributes["amount"] != "40" {
		t.Fatalf("supplied amount attribute = %q, want 40", evt.Attributes["amount"])
	}
}

func TestSupplyRejectsZeroAndOverdraft(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 0)
	lender := testAddr(t, 1)
	fund(t, state, lender, 10)

	if err := engine.Supply(lender, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("zero supply err = %v, want ErrZeroAmount", err)
	}
	if err := engine.Supply(lender, big.NewInt(11)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraft supply err = %v, want ErrInsufficientBalance", err)
	}
}

func TestWithdrawRoundTripRestoresBalance(t *testing.T) {
	engine, state, recorder, _ := newTestEngine(t, 0)
	lender := testAddr(t, 1)
	fund(t, state, lender, 100)

	if err := engine.Supply(lender, big.NewInt(70)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.Withdraw(lender, big.NewInt(70)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := balanceOf(t, state, lender); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("lender balance = %s, want 100", got)
	}
	if _, ok := state.supplies[lender.String()]; ok {
		t.Fatalf("supply position should be deleted when fully withdrawn")
	}
	lastEventOfType(t, recorder, EventTypeWithdrawn)
}

func TestWithdrawRejectsExcess(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 0)
	lender := testAddr(t, 1)
	fund(t, state, lender, 100)
	if err := engine.Supply(lender, big.NewInt(50)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.Withdraw(lender, big.NewInt(51)); !errors.Is(err, ErrInsufficientSupplied) {
		t.Fatalf("withdraw err = %v, want ErrInsufficientSupplied", err)
	}
}

func TestWithdrawBlockedByOutstandingLoans(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 1_000)
	lender := testAddr(t, 1)
	borrower := testAddr(t, 2)
	fund(t, state, lender, 100)
	if err := engine.Supply(lender, big.NewInt(100)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.Borrow(borrower, big.NewInt(60)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := engine.Withdraw(lender, big.NewInt(50)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("withdraw err = %v, want ErrInsufficientLiquidity", err)
	}
	if err := engine.Withdraw(lender, big.NewInt(40)); err != nil {
		t.Fatalf("withdraw within liquidity: %v", err)
	}
}

func TestBorrowChargesOrigination(t *testing.T) {
	engine, state, recorder, _ := newTestEngine(t, 10)
	lender := testAddr(t, 1)
	borrower := testAddr(t, 2)
	fund(t, state, lender, 100)
	if err := engine.Supply(lender, big.NewInt(100)); err != nil {
		t.Fatalf("supply: %v", err)
	}

	if err := engine.Borrow(borrower, big.NewInt(5)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	total, err := engine.TotalDebt(borrower)
	if err != nil {
		t.Fatalf("total debt: %v", err)
	}
	// 5 principal plus 10% origination.
	if total.Cmp(big.NewInt(5)) <= 0 {
		t.Fatalf("total debt = %s, want > 5", total)
	}
	want := big.NewInt(5)
	want.Add(want, applyBps(big.NewInt(5), 1000))
	if total.Cmp(want) != 0 {
		t.Fatalf("total debt = %s, want %s", total, want)
	}
	net, err := engine.NetDebt(borrower)
	if err != nil {
		t.Fatalf("net debt: %v", err)
	}
	if net.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("net debt = %s, want 5", net)
	}
	if got := balanceOf(t, state, borrower); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("borrower balance = %s, want 5", got)
	}
	lastEventOfType(t, recorder, EventTypeBorrowed)
}

func TestBorrowAdmissionUsesPrincipalOnly(t *testing.T) {
	// Collateral 25 at factor 75% supports principal up to 15 even though
	// the post-origination total debt ratio dips under the threshold.
	engine, state, _, _ := newTestEngine(t, 25)
	lender := testAddr(t, 1)
	borrower := testAddr(t, 2)
	fund(t, state, lender, 100)
	if err := engine.Supply(lender, big.NewInt(100)); err != nil {
		t.Fatalf("supply: %v", err)
	}

	if err := engine.Borrow(borrower, big.NewInt(15)); err != nil {
		t.Fatalf("borrow at limit: %v", err)
	}
	if err := engine.Borrow(borrower, big.NewInt(1)); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("borrow over limit err = %v, want ErrHealthFactorTooLow", err)
	}
}

func TestBorrowWithoutCollateralRejected(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 0)
	lender := testAddr(t, 1)
	borrower := testAddr(t, 2)
	fund(t, state, lender, 100)
	if err := engine.Supply(lender, big.NewInt(100)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.Borrow(borrower, big.NewInt(1)); !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("borrow err = %v, want ErrHealthFactorTooLow", err)
	}
}

func TestRepayInterestFirstThenPrincipal(t *testing.T) {
	engine, state, recorder, _ := newTestEngine(t, 100)
	lender := testAddr(t, 1)
	borrower := testAddr(t, 2)
	fund(t, state, lender, 1000)
	fund(t, state, borrower, 100)
	if err := engine.Supply(lender, big.NewInt(1000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.Borrow(borrower, big.NewInt(50)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// Total debt 55: 50 principal, 5 origination interest.
	if err := engine.Repay(borrower, big.NewInt(3)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	position, ok, err := state.DebtGet(borrower)
	if err != nil || !ok {
		t.Fatalf("debt position missing: %v", err)
	}
	if position.AccruedInterest.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("accrued interest = %s, want 2", position.AccruedInterest)
	}
	if position.Principal.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("principal = %s, want 50", position.Principal)
	}
	// Next payment crosses into principal.
	if err := engine.Repay(borrower, big.NewInt(12)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	position, ok, err = state.DebtGet(borrower)
	if err != nil || !ok {
		t.Fatalf("debt position missing: %v", err)
	}
	if position.AccruedInterest.Sign() != 0 {
		t.Fatalf("accrued interest = %s, want 0", position.AccruedInterest)
	}
	if position.Principal.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("principal = %s, want 40", position.Principal)
	}
	lastEventOfType(t, recorder, EventTypeRepaid)
}

func TestRepayFullClearsPositionAndPaysYield(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 200)
	lender := testAddr(t, 1)
	borrower := testAddr(t, 2)
	fund(t, state, lender, 1000)
	fund(t, state, borrower, 100)
	if err := engine.Supply(lender, big.NewInt(1000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.Borrow(borrower, big.NewInt(50)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := engine.Repay(borrower, big.NewInt(55)); err != nil {
		t.Fatalf("repay full: %v", err)
	}
	if _, ok := state.debts[borrower.String()]; ok {
		t.Fatalf("debt position should be deleted after full repayment")
	}
	supplied, err := engine.SuppliedBalance(lender)
	if err != nil {
		t.Fatalf("supplied balance: %v", err)
	}
	// Sole lender receives the full 5 interest.
	if supplied.Cmp(big.NewInt(1005)) != 0 {
		t.Fatalf("supplied balance = %s, want 1005", supplied)
	}
	if err := engine.Withdraw(lender, big.NewInt(1005)); err != nil {
		t.Fatalf("withdraw with yield: %v", err)
	}
	if got := balanceOf(t, state, lender); got.Cmp(big.NewInt(1005)) != 0 {
		t.Fatalf("lender balance = %s, want 1005", got)
	}
}

func TestRepayRejectsOverpayAndNoDebt(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 200)
	lender := testAddr(t, 1)
	borrower := testAddr(t, 2)
	fund(t, state, lender, 1000)
	fund(t, state, borrower, 100)
	if err := engine.Supply(lender, big.NewInt(1000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.Repay(borrower, big.NewInt(1)); !errors.Is(err, ErrNoDebtToRepay) {
		t.Fatalf("repay without debt err = %v, want ErrNoDebtToRepay", err)
	}
	if err := engine.Borrow(borrower, big.NewInt(50)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := engine.Repay(borrower, big.NewInt(56)); !errors.Is(err, ErrRepayExceedsDebt) {
		t.Fatalf("overpay err = %v, want ErrRepayExceedsDebt", err)
	}
}

func TestYieldDistributionProRata(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 1_000)
	lenderA := testAddr(t, 1)
	lenderB := testAddr(t, 2)
	borrower := testAddr(t, 3)
	fund(t, state, lenderA, 300)
	fund(t, state, lenderB, 100)
	fund(t, state, borrower, 100)
	if err := engine.Supply(lenderA, big.NewInt(300)); err != nil {
		t.Fatalf("supply A: %v", err)
	}
	if err := engine.Supply(lenderB, big.NewInt(100)); err != nil {
		t.Fatalf("supply B: %v", err)
	}
	if err := engine.Borrow(borrower, big.NewInt(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// 10 interest splits 3:1.
	if err := engine.Repay(borrower, big.NewInt(110)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	a, err := engine.SuppliedBalance(lenderA)
	if err != nil {
		t.Fatalf("supplied A: %v", err)
	}
	b, err := engine.SuppliedBalance(lenderB)
	if err != nil {
		t.Fatalf("supplied B: %v", err)
	}
	if a.Cmp(big.NewInt(307)) != 0 {
		t.Fatalf("lender A total = %s, want 307", a)
	}
	if b.Cmp(big.NewInt(102)) != 0 {
		t.Fatalf("lender B total = %s, want 102", b)
	}
}

func TestPeriodicInterestCompounds(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 1_000)
	lender := testAddr(t, 1)
	borrower := testAddr(t, 2)
	fund(t, state, lender, 10_000)
	if err := engine.Supply(lender, big.NewInt(10_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}

	now := int64(1_000_000)
	engine.SetNowFunc(func() int64 { return now })
	if err := engine.Borrow(borrower, big.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// Total debt 550 at origination.
	now += defaultTerms().PeriodSeconds
	total, err := engine.TotalDebt(borrower)
	if err != nil {
		t.Fatalf("total debt: %v", err)
	}
	// One period: 550 + 2% = 561.
	if total.Cmp(big.NewInt(561)) != 0 {
		t.Fatalf("total debt after one period = %s, want 561", total)
	}
	now += defaultTerms().PeriodSeconds
	total, err = engine.TotalDebt(borrower)
	if err != nil {
		t.Fatalf("total debt: %v", err)
	}
	// Second period compounds on 561: +11 (truncated) = 572.
	if total.Cmp(big.NewInt(572)) != 0 {
		t.Fatalf("total debt after two periods = %s, want 572", total)
	}
	// Projection must not mutate stored state until accrual runs.
	stored := state.debts[borrower.String()]
	if stored.AccruedInterest.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("stored interest = %s, want 50 before accrual", stored.AccruedInterest)
	}
	changed, err := engine.AccrueInterest(borrower)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !changed {
		t.Fatalf("accrue should report a change")
	}
	stored = state.debts[borrower.String()]
	if stored.TotalDebt().Cmp(big.NewInt(572)) != 0 {
		t.Fatalf("stored total debt = %s, want 572", stored.TotalDebt())
	}
	changed, err = engine.AccrueInterest(borrower)
	if err != nil {
		t.Fatalf("accrue repeat: %v", err)
	}
	if changed {
		t.Fatalf("repeated accrual within the same period must be a no-op")
	}
}

func TestLiquidateSplitsSurplus(t *testing.T) {
	engine, state, recorder, pool := newTestEngine(t, 1_000)
	lender := testAddr(t, 1)
	borrower := testAddr(t, 2)
	collection := crypto.CollectionModuleAddress("PUNK")
	fund(t, state, lender, 1_000)
	if err := engine.Supply(lender, big.NewInt(1_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.Borrow(borrower, big.NewInt(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// Debt 110. Sale brings 150; pool keeps 110, borrower gets 40 surplus
	// on top of the 100 loan disbursement.
	poolAcc, _ := state.GetAccount(pool)
	poolAcc.EnsureDefaults()
	poolAcc.Balance = new(big.Int).Add(poolAcc.Balance, big.NewInt(150))
	if err := state.PutAccount(pool, poolAcc); err != nil {
		t.Fatalf("credit proceeds: %v", err)
	}
	if err := engine.Liquidate(borrower, collection, 7, big.NewInt(150)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if _, ok := state.debts[borrower.String()]; ok {
		t.Fatalf("debt should be cleared by liquidation")
	}
	if got := balanceOf(t, state, borrower); got.Cmp(big.NewInt(140)) != 0 {
		t.Fatalf("borrower balance = %s, want 140", got)
	}
	evt := lastEventOfType(t, recorder, EventTypeLiquidated)
	if evt.Attributes["repaid"] != "110" {
		t.Fatalf("liquidated repaid attribute = %q, want 110", evt.Attributes["repaid"])
	}
	if evt.Attributes["proceeds"] != "150" {
		t.Fatalf("liquidated proceeds attribute = %q, want 150", evt.Attributes["proceeds"])
	}
	lastEventOfType(t, recorder, EventTypeRepaid)
	// Lender recovers principal plus the 10 interest.
	supplied, err := engine.SuppliedBalance(lender)
	if err != nil {
		t.Fatalf("supplied balance: %v", err)
	}
	if supplied.Cmp(big.NewInt(1_010)) != 0 {
		t.Fatalf("lender supplied = %s, want 1010", supplied)
	}
}

func TestLiquidateShortfallLeavesResidualDebt(t *testing.T) {
	engine, state, _, pool := newTestEngine(t, 1_000)
	lender := testAddr(t, 1)
	borrower := testAddr(t, 2)
	collection := crypto.CollectionModuleAddress("PUNK")
	fund(t, state, lender, 1_000)
	if err := engine.Supply(lender, big.NewInt(1_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := engine.Borrow(borrower, big.NewInt(100)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	poolAcc, _ := state.GetAccount(pool)
	poolAcc.EnsureDefaults()
	poolAcc.Balance = new(big.Int).Add(poolAcc.Balance, big.NewInt(60))
	if err := state.PutAccount(pool, poolAcc); err != nil {
		t.Fatalf("credit proceeds: %v", err)
	}
	if err := engine.Liquidate(borrower, collection, 7, big.NewInt(60)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	total, err := engine.TotalDebt(borrower)
	if err != nil {
		t.Fatalf("total debt: %v", err)
	}
	// 110 debt minus 60 proceeds: 10 interest then 50 principal paid.
	if total.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("residual debt = %s, want 50", total)
	}
}

func TestHealthFactorReference(t *testing.T) {
	// 10 collateral against 5.5 debt at factor 75% is 136.
	if got := HealthFactor(big.NewInt(1000), big.NewInt(550), 7500); got != 136 {
		t.Fatalf("health factor = %d, want 136", got)
	}
	if got := HealthFactor(big.NewInt(1000), big.NewInt(0), 7500); got != HealthFactorInfinite {
		t.Fatalf("zero debt health factor = %d, want sentinel", got)
	}
	if got := HealthFactor(big.NewInt(0), big.NewInt(100), 7500); got != 0 {
		t.Fatalf("zero collateral health factor = %d, want 0", got)
	}
	// 35 collateral against 21 debt: 125.
	if got := HealthFactor(big.NewInt(35), big.NewInt(21), 7500); got != 125 {
		t.Fatalf("health factor = %d, want 125", got)
	}
}

func TestElapsedPeriods(t *testing.T) {
	if got := elapsedPeriods(100, 99, 10); got != 0 {
		t.Fatalf("elapsed before lastAccrual = %d, want 0", got)
	}
	if got := elapsedPeriods(100, 109, 10); got != 0 {
		t.Fatalf("partial period = %d, want 0", got)
	}
	if got := elapsedPeriods(100, 130, 10); got != 3 {
		t.Fatalf("three periods = %d, want 3", got)
	}
}

func TestRepayRejectsPrincipalLedgerUnderflow(t *testing.T) {
	engine, state, _, _ := newTestEngine(t, 1000)
	borrower := testAddr(t, 1)
	fund(t, state, borrower, 100)

	// A corrupted ledger: the position carries more principal than the pool
	// accounts for. The repayment must surface the inconsistency instead of
	// absorbing it.
	if err := state.DebtPut(&DebtPosition{
		Borrower:        borrower,
		Principal:       big.NewInt(100),
		AccruedInterest: big.NewInt(0),
		PeriodStart:     1_000_000,
		LastAccrual:     1_000_000,
	}); err != nil {
		t.Fatalf("seed debt: %v", err)
	}
	if err := state.PoolPut(&PoolLedger{
		TotalLiquidity:         big.NewInt(0),
		TotalPrincipalBorrowed: big.NewInt(50),
	}); err != nil {
		t.Fatalf("seed pool: %v", err)
	}

	if err := engine.Repay(borrower, big.NewInt(100)); !errors.Is(err, errNegativeLedger) {
		t.Fatalf("repay err = %v, want errNegativeLedger", err)
	}
}
