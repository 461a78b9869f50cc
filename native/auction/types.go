package auction

import (
	"math/big"

	"nftlend/crypto"
)

// Listing is one live liquidation auction for a pledged NFT. The item stays
// in vault custody until settlement; only the escrowed bid funds move while
// the auction runs.
type Listing struct {
	Collection crypto.Address
	TokenID    uint64
	// Borrower is the debtor whose collateral is being sold. Sale proceeds
	// repay their debt.
	Borrower crypto.Address
	// BasePrice is the minimum acceptable price, already discounted from
	// the oracle valuation.
	BasePrice *big.Int
	StartedAt int64
	Duration  int64
	// HighestBid is zero until the first bid lands.
	HighestBid    *big.Int
	HighestBidder crypto.Address
	// EndedNoWinner is set once the auction expires without bids, after
	// which the item can be bought outright at the base price.
	EndedNoWinner bool
}

// EnsureDefaults populates nil big.Int fields after decoding.
func (l *Listing) EnsureDefaults() {
	if l.BasePrice == nil {
		l.BasePrice = big.NewInt(0)
	}
	if l.HighestBid == nil {
		l.HighestBid = big.NewInt(0)
	}
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.BasePrice != nil {
		clone.BasePrice = new(big.Int).Set(l.BasePrice)
	}
	if l.HighestBid != nil {
		clone.HighestBid = new(big.Int).Set(l.HighestBid)
	}
	clone.EnsureDefaults()
	return &clone
}

// EndsAt returns the expiry timestamp.
func (l *Listing) EndsAt() int64 {
	if l == nil {
		return 0
	}
	return l.StartedAt + l.Duration
}

// Expired reports whether the auction window has closed at the given time.
func (l *Listing) Expired(now int64) bool {
	return l != nil && now >= l.EndsAt()
}

// HasBid reports whether at least one bid has been accepted.
func (l *Listing) HasBid() bool {
	return l != nil && l.HighestBid != nil && l.HighestBid.Sign() > 0
}
