package crypto

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable prefixes used by the protocol.
type AddressPrefix string

const (
	// AccountPrefix marks lender, borrower and bidder accounts.
	AccountPrefix AddressPrefix = "nlp"
	// CollectionPrefix marks NFT collection identities.
	CollectionPrefix AddressPrefix = "nlc"
)

// AddressLength is the raw byte length of every address.
const AddressLength = 20

// Address represents a 20-byte protocol address with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	cloned := append([]byte(nil), b...)
	return Address{prefix: prefix, bytes: cloned}
}

func (a Address) String() string {
	if len(a.bytes) == 0 {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address is unset or all zero bytes.
func (a Address) IsZero() bool {
	if len(a.bytes) == 0 {
		return true
	}
	for _, b := range a.bytes {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal compares two addresses by raw bytes, ignoring the prefix.
func (a Address) Equal(other Address) bool {
	return bytes.Equal(a.bytes, other.bytes)
}

// DecodeAddress parses a bech32 string into an Address.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// ModuleAddress derives a deterministic account address for an internal
// protocol module (pool treasury, collateral vault, auction escrow). The
// derivation is a keccak hash so module accounts can never collide with
// key-derived user accounts.
func ModuleAddress(name string) Address {
	hash := ethcrypto.Keccak256([]byte("nftlend/module/" + name))
	return NewAddress(AccountPrefix, hash[12:])
}

// CollectionModuleAddress derives the deterministic identity for an NFT
// collection registered under the given symbol.
func CollectionModuleAddress(symbol string) Address {
	hash := ethcrypto.Keccak256([]byte("nftlend/collection/" + symbol))
	return NewAddress(CollectionPrefix, hash[12:])
}
