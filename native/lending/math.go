package lending

import (
	"math"
	"math/big"
)

var (
	basisPoints = big.NewInt(10_000)
	oneHundred  = big.NewInt(100)
)

// HealthFactorInfinite is the sentinel health factor reported when an
// account carries no debt.
const HealthFactorInfinite = uint64(math.MaxUint64)

// applyBps scales an amount by a basis point factor, truncating toward
// zero. Truncation is the single rounding rule for the whole protocol; a
// mixed rule would let rounding drift break the solvency invariant.
func applyBps(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

// HealthFactor computes the integer-percentage ratio of discounted
// collateral value to total debt (120 means 1.20). Zero debt reports the
// infinite sentinel; zero collateral with debt reports zero.
func HealthFactor(collateralValue, totalDebt *big.Int, collateralFactorBps uint64) uint64 {
	if totalDebt == nil || totalDebt.Sign() == 0 {
		return HealthFactorInfinite
	}
	if collateralValue == nil || collateralValue.Sign() == 0 {
		return 0
	}
	num := new(big.Int).Mul(collateralValue, new(big.Int).SetUint64(collateralFactorBps))
	den := new(big.Int).Mul(totalDebt, oneHundred)
	hf := num.Quo(num, den)
	if !hf.IsUint64() {
		return HealthFactorInfinite
	}
	return hf.Uint64()
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
