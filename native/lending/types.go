package lending

import (
	"math/big"

	"nftlend/crypto"
)

// PoolLedger captures the global accounting state for the lending pool.
// Amounts are denominated in the smallest currency unit and expressed as
// big integers to match on-chain precision.
type PoolLedger struct {
	// TotalLiquidity is the currency currently held by the pool and
	// available for withdrawals and new loans.
	TotalLiquidity *big.Int
	// TotalPrincipalBorrowed tracks outstanding principal across all
	// borrowers, excluding accrued interest.
	TotalPrincipalBorrowed *big.Int
}

// EnsureDefaults populates nil big.Int fields after decoding.
func (p *PoolLedger) EnsureDefaults() {
	if p.TotalLiquidity == nil {
		p.TotalLiquidity = big.NewInt(0)
	}
	if p.TotalPrincipalBorrowed == nil {
		p.TotalPrincipalBorrowed = big.NewInt(0)
	}
}

// Clone returns a deep copy of the ledger.
func (p *PoolLedger) Clone() *PoolLedger {
	if p == nil {
		return nil
	}
	clone := &PoolLedger{}
	if p.TotalLiquidity != nil {
		clone.TotalLiquidity = new(big.Int).Set(p.TotalLiquidity)
	}
	if p.TotalPrincipalBorrowed != nil {
		clone.TotalPrincipalBorrowed = new(big.Int).Set(p.TotalPrincipalBorrowed)
	}
	clone.EnsureDefaults()
	return clone
}

// DebtPosition is a borrower's outstanding loan. Net debt is the principal;
// total debt adds accrued interest. The position is destroyed on full
// repayment.
type DebtPosition struct {
	Borrower        crypto.Address
	Principal       *big.Int
	AccruedInterest *big.Int
	PeriodStart     int64
	LastAccrual     int64
}

// EnsureDefaults populates nil big.Int fields after decoding.
func (d *DebtPosition) EnsureDefaults() {
	if d.Principal == nil {
		d.Principal = big.NewInt(0)
	}
	if d.AccruedInterest == nil {
		d.AccruedInterest = big.NewInt(0)
	}
}

// Clone returns a deep copy of the debt position.
func (d *DebtPosition) Clone() *DebtPosition {
	if d == nil {
		return nil
	}
	clone := *d
	if d.Principal != nil {
		clone.Principal = new(big.Int).Set(d.Principal)
	}
	if d.AccruedInterest != nil {
		clone.AccruedInterest = new(big.Int).Set(d.AccruedInterest)
	}
	clone.EnsureDefaults()
	return &clone
}

// TotalDebt returns principal plus accrued interest as recorded.
func (d *DebtPosition) TotalDebt() *big.Int {
	if d == nil {
		return big.NewInt(0)
	}
	total := big.NewInt(0)
	if d.Principal != nil {
		total.Add(total, d.Principal)
	}
	if d.AccruedInterest != nil {
		total.Add(total, d.AccruedInterest)
	}
	return total
}

// SupplyPosition is a lender's stake in the pool. Yield grows when borrower
// interest is distributed and is withdrawn after principal.
type SupplyPosition struct {
	Lender    crypto.Address
	Principal *big.Int
	Yield     *big.Int
}

// EnsureDefaults populates nil big.Int fields after decoding.
func (s *SupplyPosition) EnsureDefaults() {
	if s.Principal == nil {
		s.Principal = big.NewInt(0)
	}
	if s.Yield == nil {
		s.Yield = big.NewInt(0)
	}
}

// Clone returns a deep copy of the supply position.
func (s *SupplyPosition) Clone() *SupplyPosition {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Principal != nil {
		clone.Principal = new(big.Int).Set(s.Principal)
	}
	if s.Yield != nil {
		clone.Yield = new(big.Int).Set(s.Yield)
	}
	clone.EnsureDefaults()
	return &clone
}

// Total returns principal plus accrued yield.
func (s *SupplyPosition) Total() *big.Int {
	if s == nil {
		return big.NewInt(0)
	}
	total := big.NewInt(0)
	if s.Principal != nil {
		total.Add(total, s.Principal)
	}
	if s.Yield != nil {
		total.Add(total, s.Yield)
	}
	return total
}

// RiskParameters groups the safety limits governing borrowing.
type RiskParameters struct {
	// CollateralFactorBps discounts collateral value when computing the
	// health factor, expressed in basis points (reference: 7500).
	CollateralFactorBps uint64
	// LiquidationThresholdPct is the health factor percentage below which a
	// position is eligible for liquidation (reference: 120).
	LiquidationThresholdPct uint64
}

// InterestTerms describes the loan pricing applied by the pool.
type InterestTerms struct {
	// OriginationBps is charged on every borrowed amount immediately,
	// expressed in basis points (reference: 1000).
	OriginationBps uint64
	// PeriodicBps accrues on total debt per elapsed whole period,
	// compounding across periods (reference: 200).
	PeriodicBps uint64
	// PeriodSeconds is the accrual period length (reference: 30 days).
	PeriodSeconds int64
}

// AccountData is the read-only aggregate reported for one account. The
// collateral value is pulled live from the collateral manager so the figure
// is never stale.
type AccountData struct {
	TotalDebt       *big.Int
	NetDebt         *big.Int
	TotalSupplied   *big.Int
	CollateralValue *big.Int
	HealthFactor    uint64
}
