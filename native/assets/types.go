package assets

import (
	"nftlend/crypto"
)

// CollectionVariant distinguishes the supported collection behaviours. The
// protocol treats every variant through the same custody capability; the
// variant only changes bookkeeping details such as token numbering.
type CollectionVariant uint8

const (
	// VariantStandard numbers tokens sequentially from zero.
	VariantStandard CollectionVariant = iota
	// VariantLegacy mirrors older collections that start numbering at one
	// and do not track per-token mint timestamps.
	VariantLegacy
)

// Valid reports whether the variant value is supported.
func (v CollectionVariant) Valid() bool {
	switch v {
	case VariantStandard, VariantLegacy:
		return true
	default:
		return false
	}
}

// Collection is the registry record for an NFT collection.
type Collection struct {
	Address     crypto.Address
	Symbol      string
	Name        string
	Variant     CollectionVariant
	NextTokenID uint64
	Minter      crypto.Address
}

// Clone returns a deep copy of the collection record.
func (c *Collection) Clone() *Collection {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// CollectionAddress derives the deterministic identity for a collection
// symbol. Registering the same symbol twice therefore collides instead of
// silently creating a second collection.
func CollectionAddress(symbol string) crypto.Address {
	return crypto.CollectionModuleAddress(symbol)
}
