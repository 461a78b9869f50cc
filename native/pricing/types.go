package pricing

import (
	"math/big"

	"nftlend/crypto"
)

// PriceRecord is the authoritative valuation state for one NFT. Records are
// created in the pending state when an item is first registered and flip to
// known once the price feed answers. A pending item always values to zero.
type PriceRecord struct {
	Collection  crypto.Address
	TokenID     uint64
	Price       *big.Int
	Pending     bool
	Known       bool
	Eligible    bool
	LastUpdated int64
}

// Clone returns a deep copy of the price record.
func (r *PriceRecord) Clone() *PriceRecord {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Price != nil {
		clone.Price = new(big.Int).Set(r.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// EnsureDefaults populates nil big.Int fields after decoding.
func (r *PriceRecord) EnsureDefaults() {
	if r.Price == nil {
		r.Price = big.NewInt(0)
	}
}
