package collateral

import (
	"fmt"
	"strings"

	"nftlend/crypto"
)

// LiquidationPolicy selects which pledged items are sold first when a
// position breaches the liquidation threshold.
type LiquidationPolicy uint8

const (
	// PolicyLargestFirst sells the most valuable items first so the debt is
	// covered with the fewest listings.
	PolicyLargestFirst LiquidationPolicy = iota
	// PolicyCheapestFirst sells the least valuable items first so the
	// borrower keeps their most valuable pieces as long as possible.
	PolicyCheapestFirst
)

// Valid reports whether the policy is a known value.
func (p LiquidationPolicy) Valid() bool {
	switch p {
	case PolicyLargestFirst, PolicyCheapestFirst:
		return true
	default:
		return false
	}
}

func (p LiquidationPolicy) String() string {
	switch p {
	case PolicyLargestFirst:
		return "largest-first"
	case PolicyCheapestFirst:
		return "cheapest-first"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParsePolicy maps a configuration string to a liquidation policy.
func ParsePolicy(value string) (LiquidationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "largest-first", "largest":
		return PolicyLargestFirst, nil
	case "cheapest-first", "cheapest":
		return PolicyCheapestFirst, nil
	default:
		return PolicyLargestFirst, fmt.Errorf("collateral: unknown liquidation policy %q", value)
	}
}

// CollateralItem is one pledged NFT held in vault custody.
type CollateralItem struct {
	Collection crypto.Address
	TokenID    uint64
	PledgedAt  int64
}

// BorrowerProfile groups the pledged items of one borrower together with
// the liquidation flag maintained by Refresh.
type BorrowerProfile struct {
	Borrower        crypto.Address
	Items           []CollateralItem
	BeingLiquidated bool
}

// Clone returns a deep copy of the profile.
func (p *BorrowerProfile) Clone() *BorrowerProfile {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Items = append([]CollateralItem(nil), p.Items...)
	return &clone
}

// Find returns the index of the item in the profile, or -1.
func (p *BorrowerProfile) Find(collection crypto.Address, tokenID uint64) int {
	if p == nil {
		return -1
	}
	for i, item := range p.Items {
		if item.TokenID == tokenID && item.Collection.Equal(collection) {
			return i
		}
	}
	return -1
}
