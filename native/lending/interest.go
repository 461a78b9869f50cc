package lending

import "math/big"

// elapsedPeriods returns the count of whole accrual periods between the
// last accrual and now.
func elapsedPeriods(lastAccrual, now, periodSeconds int64) int64 {
	if periodSeconds <= 0 || now <= lastAccrual {
		return 0
	}
	return (now - lastAccrual) / periodSeconds
}

// accruePeriodic advances a debt position's accrued interest by every whole
// period elapsed since the last accrual. Interest is simple within a period
// and compounds across periods: each period charges PeriodicBps on the
// total debt including previously accrued interest. The position's
// LastAccrual moves forward by whole periods only, so partial periods keep
// accruing from the same boundary and late or repeated calls are safe.
func accruePeriodic(position *DebtPosition, terms InterestTerms, now int64) bool {
	if position == nil {
		return false
	}
	position.EnsureDefaults()
	periods := elapsedPeriods(position.LastAccrual, now, terms.PeriodSeconds)
	if periods == 0 || position.TotalDebt().Sign() == 0 {
		return false
	}
	changed := false
	for i := int64(0); i < periods; i++ {
		charge := applyBps(position.TotalDebt(), terms.PeriodicBps)
		if charge.Sign() > 0 {
			position.AccruedInterest = new(big.Int).Add(position.AccruedInterest, charge)
			changed = true
		}
	}
	position.LastAccrual += periods * terms.PeriodSeconds
	return changed || periods > 0
}

// debtAt projects the total debt of a position at the given timestamp
// without mutating stored state. Refresh-style callers use it so that
// health checks reflect interest that has economically accrued even when
// the stored position has not been touched yet.
func debtAt(position *DebtPosition, terms InterestTerms, now int64) *big.Int {
	if position == nil {
		return big.NewInt(0)
	}
	projected := position.Clone()
	accruePeriodic(projected, terms, now)
	return projected.TotalDebt()
}
