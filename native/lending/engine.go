package lending

import (
	"errors"
	"math/big"
	"time"

	"nftlend/core/events"
	"nftlend/core/types"
	"nftlend/crypto"
	nativecommon "nftlend/native/common"
)

var (
	errNilState              = errors.New("lending engine: state not configured")
	errNilCollateral         = errors.New("lending engine: collateral source not configured")
	errZeroAmount            = errors.New("lending engine: amount must be positive")
	errInsufficientBalance   = errors.New("lending engine: insufficient account balance")
	errInsufficientLiquidity = errors.New("lending engine: insufficient pool liquidity")
	errInsufficientSupplied  = errors.New("lending engine: amount exceeds supplied balance")
	errHealthFactorTooLow    = errors.New("lending engine: health factor would fall below the borrowing threshold")
	errNoDebtToRepay         = errors.New("lending engine: no outstanding debt to repay")
	errRepayExceedsDebt      = errors.New("lending engine: repayment exceeds total debt")
	errNegativeLedger        = errors.New("lending engine: pool ledger invariant violated")
	errInvalidProceeds       = errors.New("lending engine: sale proceeds must be positive")
)

// Exported error identities for callers translating failures.
var (
	ErrZeroAmount            = errZeroAmount
	ErrInsufficientBalance   = errInsufficientBalance
	ErrInsufficientLiquidity = errInsufficientLiquidity
	ErrInsufficientSupplied  = errInsufficientSupplied
	ErrHealthFactorTooLow    = errHealthFactorTooLow
	ErrNoDebtToRepay         = errNoDebtToRepay
	ErrRepayExceedsDebt      = errRepayExceedsDebt
)

const moduleName = "lending"

type engineState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	PoolGet() (*PoolLedger, error)
	PoolPut(ledger *PoolLedger) error
	DebtGet(addr crypto.Address) (*DebtPosition, bool, error)
	DebtPut(position *DebtPosition) error
	DebtDelete(addr crypto.Address) error
	SupplyGet(addr crypto.Address) (*SupplyPosition, bool, error)
	SupplyPut(position *SupplyPosition) error
	SupplyDelete(addr crypto.Address) error
	SupplyList() ([]*SupplyPosition, error)
}

type collateralSource interface {
	CollateralValue(borrower crypto.Address) (*big.Int, error)
}

// Engine orchestrates the lending pool: supply and withdrawal of
// liquidity, collateral-gated borrowing, interest accrual and forced
// repayment from liquidation sales.
type Engine struct {
	state       engineState
	collateral  collateralSource
	emitter     events.Emitter
	poolAddress crypto.Address
	params      RiskParameters
	terms       InterestTerms
	pauses      nativecommon.PauseView
	nowFn       func() int64
}

// NewEngine constructs a lending engine. The pool address is the treasury
// account holding pooled funds.
func NewEngine(poolAddress crypto.Address, params RiskParameters, terms InterestTerms) *Engine {
	return &Engine{
		poolAddress: poolAddress,
		params:      params,
		terms:       terms,
		emitter:     events.NoopEmitter{},
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCollateralSource wires the live collateral valuation used by borrow
// checks and account data queries.
func (e *Engine) SetCollateralSource(source collateralSource) { e.collateral = source }

// SetPauses configures the administrative pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets it to no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Params returns the configured risk parameters.
func (e *Engine) Params() RiskParameters { return e.params }

// Terms returns the configured interest terms.
func (e *Engine) Terms() InterestTerms { return e.terms }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(lendingEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	acc.EnsureDefaults()
	return acc, nil
}

func (e *Engine) loadPool() (*PoolLedger, error) {
	pool, err := e.state.PoolGet()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &PoolLedger{}
	}
	pool.EnsureDefaults()
	return pool, nil
}

func (e *Engine) loadSupply(lender crypto.Address) (*SupplyPosition, error) {
	position, ok, err := e.state.SupplyGet(lender)
	if err != nil {
		return nil, err
	}
	if !ok {
		position = &SupplyPosition{Lender: lender}
	}
	position.EnsureDefaults()
	return position, nil
}

// Supply moves currency from the lender into the pool and credits their
// supply position.
func (e *Engine) Supply(lender crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}

	lenderAcc, err := e.loadAccount(lender)
	if err != nil {
		return err
	}
	if lenderAcc.Balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	poolAcc, err := e.loadAccount(e.poolAddress)
	if err != nil {
		return err
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	position, err := e.loadSupply(lender)
	if err != nil {
		return err
	}

	lenderAcc.Balance = new(big.Int).Sub(lenderAcc.Balance, amount)
	poolAcc.Balance = new(big.Int).Add(poolAcc.Balance, amount)
	position.Principal = new(big.Int).Add(position.Principal, amount)
	pool.TotalLiquidity = new(big.Int).Add(pool.TotalLiquidity, amount)

	if err := e.state.PutAccount(lender, lenderAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.poolAddress, poolAcc); err != nil {
		return err
	}
	if err := e.state.SupplyPut(position); err != nil {
		return err
	}
	if err := e.state.PoolPut(pool); err != nil {
		return err
	}

	e.emit(newAmountEvent(EventTypeSupplied, lender, amount, e.now()))
	return nil
}

// Withdraw releases supplied currency back to the lender. Principal is
// consumed before accrued yield so a supply/withdraw round trip restores
// the exact pre-supply balances.
func (e *Engine) Withdraw(lender crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}

	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if pool.TotalLiquidity.Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}
	position, ok, err := e.state.SupplyGet(lender)
	if err != nil {
		return err
	}
	if !ok {
		return errInsufficientSupplied
	}
	position.EnsureDefaults()
	if position.Total().Cmp(amount) < 0 {
		return errInsufficientSupplied
	}

	lenderAcc, err := e.loadAccount(lender)
	if err != nil {
		return err
	}
	poolAcc, err := e.loadAccount(e.poolAddress)
	if err != nil {
		return err
	}
	if poolAcc.Balance.Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}

	fromPrincipal := minBig(position.Principal, amount)
	fromYield := new(big.Int).Sub(amount, fromPrincipal)
	position.Principal = new(big.Int).Sub(position.Principal, fromPrincipal)
	position.Yield = new(big.Int).Sub(position.Yield, fromYield)

	poolAcc.Balance = new(big.Int).Sub(poolAcc.Balance, amount)
	lenderAcc.Balance = new(big.Int).Add(lenderAcc.Balance, amount)
	pool.TotalLiquidity = new(big.Int).Sub(pool.TotalLiquidity, amount)
	if pool.TotalLiquidity.Sign() < 0 {
		return errNegativeLedger
	}

	if err := e.state.PutAccount(e.poolAddress, poolAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(lender, lenderAcc); err != nil {
		return err
	}
	if position.Total().Sign() == 0 {
		if err := e.state.SupplyDelete(lender); err != nil {
			return err
		}
	} else {
		if err := e.state.SupplyPut(position); err != nil {
			return err
		}
	}
	if err := e.state.PoolPut(pool); err != nil {
		return err
	}

	e.emit(newAmountEvent(EventTypeWithdrawn, lender, amount, e.now()))
	return nil
}

// Borrow draws a loan against the caller's pledged collateral. Admission is
// checked against projected principal: the discounted collateral value must
// keep the health factor at or above the liquidation threshold.
func (e *Engine) Borrow(borrower crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.collateral == nil {
		return errNilCollateral
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}

	now := e.now()
	position, ok, err := e.state.DebtGet(borrower)
	if err != nil {
		return err
	}
	if !ok {
		position = &DebtPosition{Borrower: borrower, PeriodStart: now, LastAccrual: now}
	}
	position.EnsureDefaults()
	accruePeriodic(position, e.terms, now)

	collateralValue, err := e.collateral.CollateralValue(borrower)
	if err != nil {
		return err
	}
	projectedPrincipal := new(big.Int).Add(position.Principal, amount)
	if HealthFactor(collateralValue, projectedPrincipal, e.params.CollateralFactorBps) < e.params.LiquidationThresholdPct {
		return errHealthFactorTooLow
	}

	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if pool.TotalLiquidity.Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}
	poolAcc, err := e.loadAccount(e.poolAddress)
	if err != nil {
		return err
	}
	if poolAcc.Balance.Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}
	borrowerAcc, err := e.loadAccount(borrower)
	if err != nil {
		return err
	}

	position.Principal = projectedPrincipal
	origination := applyBps(amount, e.terms.OriginationBps)
	if origination.Sign() > 0 {
		position.AccruedInterest = new(big.Int).Add(position.AccruedInterest, origination)
	}

	poolAcc.Balance = new(big.Int).Sub(poolAcc.Balance, amount)
	borrowerAcc.Balance = new(big.Int).Add(borrowerAcc.Balance, amount)
	pool.TotalLiquidity = new(big.Int).Sub(pool.TotalLiquidity, amount)
	pool.TotalPrincipalBorrowed = new(big.Int).Add(pool.TotalPrincipalBorrowed, amount)
	if pool.TotalLiquidity.Sign() < 0 {
		return errNegativeLedger
	}

	if err := e.state.PutAccount(e.poolAddress, poolAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(borrower, borrowerAcc); err != nil {
		return err
	}
	if err := e.state.DebtPut(position); err != nil {
		return err
	}
	if err := e.state.PoolPut(pool); err != nil {
		return err
	}

	e.emit(newAmountEvent(EventTypeBorrowed, borrower, amount, now))
	return nil
}

// Repay pays down the caller's debt, interest first, then principal.
// Overpayment beyond total debt is rejected so debt can never go negative.
func (e *Engine) Repay(borrower crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errZeroAmount
	}

	now := e.now()
	position, ok, err := e.state.DebtGet(borrower)
	if err != nil {
		return err
	}
	if !ok {
		return errNoDebtToRepay
	}
	position.EnsureDefaults()
	accruePeriodic(position, e.terms, now)
	totalDebt := position.TotalDebt()
	if totalDebt.Sign() == 0 {
		return errNoDebtToRepay
	}
	if amount.Cmp(totalDebt) > 0 {
		return errRepayExceedsDebt
	}

	borrowerAcc, err := e.loadAccount(borrower)
	if err != nil {
		return err
	}
	if borrowerAcc.Balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	poolAcc, err := e.loadAccount(e.poolAddress)
	if err != nil {
		return err
	}
	pool, err := e.loadPool()
	if err != nil {
		return err
	}

	borrowerAcc.Balance = new(big.Int).Sub(borrowerAcc.Balance, amount)
	poolAcc.Balance = new(big.Int).Add(poolAcc.Balance, amount)

	if err := e.state.PutAccount(borrower, borrowerAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.poolAddress, poolAcc); err != nil {
		return err
	}
	if err := e.applyRepayment(position, pool, amount); err != nil {
		return err
	}

	e.emit(newAmountEvent(EventTypeRepaid, borrower, amount, now))
	return nil
}

// applyRepayment books a payment that has already reached the pool
// treasury: interest first, then principal, with the interest portion
// distributed to lenders and the ledger totals updated.
func (e *Engine) applyRepayment(position *DebtPosition, pool *PoolLedger, amount *big.Int) error {
	interestPaid := minBig(position.AccruedInterest, amount)
	principalPaid := new(big.Int).Sub(amount, interestPaid)

	position.AccruedInterest = new(big.Int).Sub(position.AccruedInterest, interestPaid)
	position.Principal = new(big.Int).Sub(position.Principal, principalPaid)
	if position.Principal.Sign() < 0 {
		return errNegativeLedger
	}

	pool.TotalLiquidity = new(big.Int).Add(pool.TotalLiquidity, amount)
	pool.TotalPrincipalBorrowed = new(big.Int).Sub(pool.TotalPrincipalBorrowed, principalPaid)
	if pool.TotalPrincipalBorrowed.Sign() < 0 {
		return errNegativeLedger
	}

	if interestPaid.Sign() > 0 {
		if err := e.distributeYield(interestPaid); err != nil {
			return err
		}
	}

	if position.TotalDebt().Sign() == 0 {
		if err := e.state.DebtDelete(position.Borrower); err != nil {
			return err
		}
	} else {
		if err := e.state.DebtPut(position); err != nil {
			return err
		}
	}
	return e.state.PoolPut(pool)
}

// distributeYield credits borrower interest to lenders pro rata by supplied
// principal. Shares truncate toward zero; the dust stays in the pool where
// it can only strengthen solvency.
func (e *Engine) distributeYield(interest *big.Int) error {
	suppliers, err := e.state.SupplyList()
	if err != nil {
		return err
	}
	totalPrincipal := big.NewInt(0)
	for _, position := range suppliers {
		position.EnsureDefaults()
		totalPrincipal.Add(totalPrincipal, position.Principal)
	}
	if totalPrincipal.Sign() == 0 {
		return nil
	}
	for _, position := range suppliers {
		share := new(big.Int).Mul(interest, position.Principal)
		share.Quo(share, totalPrincipal)
		if share.Sign() == 0 {
			continue
		}
		position.Yield = new(big.Int).Add(position.Yield, share)
		if err := e.state.SupplyPut(position); err != nil {
			return err
		}
	}
	return nil
}

// AccrueInterest rolls the borrower's debt position forward over every
// whole period elapsed. It reports whether stored state changed.
func (e *Engine) AccrueInterest(borrower crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	position, ok, err := e.state.DebtGet(borrower)
	if err != nil || !ok {
		return false, err
	}
	position.EnsureDefaults()
	if !accruePeriodic(position, e.terms, e.now()) {
		return false, nil
	}
	if err := e.state.DebtPut(position); err != nil {
		return false, err
	}
	return true, nil
}

// Liquidate applies collateral sale proceeds as a forced repayment. The
// auction settlement path credits the proceeds to the pool treasury before
// calling; any surplus beyond total debt is returned to the borrower.
func (e *Engine) Liquidate(borrower, collection crypto.Address, tokenID uint64, proceeds *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if proceeds == nil || proceeds.Sign() <= 0 {
		return errInvalidProceeds
	}

	now := e.now()
	position, ok, err := e.state.DebtGet(borrower)
	if err != nil {
		return err
	}
	if !ok {
		position = &DebtPosition{Borrower: borrower, PeriodStart: now, LastAccrual: now}
	}
	position.EnsureDefaults()
	accruePeriodic(position, e.terms, now)

	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	paid := minBig(position.TotalDebt(), proceeds)
	surplus := new(big.Int).Sub(proceeds, paid)

	if paid.Sign() > 0 {
		if err := e.applyRepayment(position, pool, paid); err != nil {
			return err
		}
	} else if err := e.state.PoolPut(pool); err != nil {
		return err
	}

	if surplus.Sign() > 0 {
		poolAcc, err := e.loadAccount(e.poolAddress)
		if err != nil {
			return err
		}
		if poolAcc.Balance.Cmp(surplus) < 0 {
			return errNegativeLedger
		}
		borrowerAcc, err := e.loadAccount(borrower)
		if err != nil {
			return err
		}
		poolAcc.Balance = new(big.Int).Sub(poolAcc.Balance, surplus)
		borrowerAcc.Balance = new(big.Int).Add(borrowerAcc.Balance, surplus)
		if err := e.state.PutAccount(e.poolAddress, poolAcc); err != nil {
			return err
		}
		if err := e.state.PutAccount(borrower, borrowerAcc); err != nil {
			return err
		}
	}

	e.emit(newLiquidatedEvent(borrower, collection, tokenID, proceeds, paid, now))
	if paid.Sign() > 0 {
		e.emit(newAmountEvent(EventTypeRepaid, borrower, paid, now))
	}
	return nil
}

// TotalDebt projects the borrower's total debt at the current time without
// mutating stored state.
func (e *Engine) TotalDebt(borrower crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, ok, err := e.state.DebtGet(borrower)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return debtAt(position, e.terms, e.now()), nil
}

// NetDebt returns the borrower's outstanding principal.
func (e *Engine) NetDebt(borrower crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, ok, err := e.state.DebtGet(borrower)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	position.EnsureDefaults()
	return new(big.Int).Set(position.Principal), nil
}

// Pool returns a copy of the pool ledger.
func (e *Engine) Pool() (*PoolLedger, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// SuppliedBalance returns the lender's principal plus accrued yield.
func (e *Engine) SuppliedBalance(lender crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, ok, err := e.state.SupplyGet(lender)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return position.Total(), nil
}

// UserAccountData aggregates the live view of one account: debt, supplied
// balance, collateral value and health factor.
func (e *Engine) UserAccountData(addr crypto.Address) (*AccountData, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.collateral == nil {
		return nil, errNilCollateral
	}
	totalDebt, err := e.TotalDebt(addr)
	if err != nil {
		return nil, err
	}
	netDebt, err := e.NetDebt(addr)
	if err != nil {
		return nil, err
	}
	totalSupplied, err := e.SuppliedBalance(addr)
	if err != nil {
		return nil, err
	}
	collateralValue, err := e.collateral.CollateralValue(addr)
	if err != nil {
		return nil, err
	}
	return &AccountData{
		TotalDebt:       totalDebt,
		NetDebt:         netDebt,
		TotalSupplied:   totalSupplied,
		CollateralValue: collateralValue,
		HealthFactor:    HealthFactor(collateralValue, totalDebt, e.params.CollateralFactorBps),
	}, nil
}
