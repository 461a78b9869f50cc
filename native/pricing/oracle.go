package pricing

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"gopkg.in/yaml.v3"

	"nftlend/crypto"
)

// MockOracle is the on-chain style price feed used for local runs and
// tests. Prices are set manually (or seeded from a YAML fixture) and pushed
// into the registry either on demand or when the keeper refreshes.
type MockOracle struct {
	mu       sync.Mutex
	identity crypto.Address
	prices   map[string]oraclePrice
}

type oraclePrice struct {
	price    *big.Int
	eligible bool
}

// NewMockOracle constructs a mock feed operating under the given identity.
// The identity must match the oracle configured on the pricing engine for
// pushes to be accepted.
func NewMockOracle(identity crypto.Address) *MockOracle {
	return &MockOracle{
		identity: identity,
		prices:   make(map[string]oraclePrice),
	}
}

// Identity returns the feed's caller identity.
func (o *MockOracle) Identity() crypto.Address { return o.identity }

func itemKey(collection crypto.Address, tokenID uint64) string {
	return fmt.Sprintf("%s/%d", collection.String(), tokenID)
}

// SetPrice stores the manual valuation for an item. It mirrors the manual
// floor price updates operators run against the mock feed.
func (o *MockOracle) SetPrice(collection crypto.Address, tokenID uint64, price *big.Int, eligible bool) {
	if price == nil {
		price = big.NewInt(0)
	}
	o.mu.Lock()
	o.prices[itemKey(collection, tokenID)] = oraclePrice{price: new(big.Int).Set(price), eligible: eligible}
	o.mu.Unlock()
}

func (o *MockOracle) lookup(collection crypto.Address, tokenID uint64) (oraclePrice, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.prices[itemKey(collection, tokenID)]
	return entry, ok
}

// ServePending answers every pending price request the registry is holding.
// Items the oracle has no price for stay pending until a price arrives.
func (o *MockOracle) ServePending(engine *Engine) error {
	pending, err := engine.PendingItems()
	if err != nil {
		return err
	}
	for _, record := range pending {
		entry, ok := o.lookup(record.Collection, record.TokenID)
		if !ok {
			continue
		}
		if err := engine.PushPrice(o.identity, record.Collection, record.TokenID, entry.price, entry.eligible); err != nil {
			return err
		}
	}
	return nil
}

// PushAll re-pushes the oracle's current price for every tracked item,
// mirroring the mock feed's bulk floor price update script.
func (o *MockOracle) PushAll(engine *Engine) error {
	tracked, err := engine.TrackedItems()
	if err != nil {
		return err
	}
	for _, record := range tracked {
		entry, ok := o.lookup(record.Collection, record.TokenID)
		if !ok {
			continue
		}
		if record.Known && record.Price.Cmp(entry.price) == 0 && record.Eligible == entry.eligible {
			continue
		}
		if err := engine.PushPrice(o.identity, record.Collection, record.TokenID, entry.price, entry.eligible); err != nil {
			return err
		}
	}
	return nil
}

// Seed fixture layout for the mock oracle.
type seedFile struct {
	Collections []seedCollection `yaml:"collections"`
}

type seedCollection struct {
	Symbol string      `yaml:"symbol"`
	Tokens []seedToken `yaml:"tokens"`
}

type seedToken struct {
	ID       uint64 `yaml:"id"`
	Price    string `yaml:"price"`
	Eligible *bool  `yaml:"eligible"`
}

// LoadSeed populates the oracle from a YAML fixture keyed by collection
// symbol. Collection addresses are derived the same way the assets module
// derives them, so fixtures and registrations agree.
func (o *MockOracle) LoadSeed(data []byte) error {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("oracle seed: %w", err)
	}
	for _, collection := range seed.Collections {
		if collection.Symbol == "" {
			return errors.New("oracle seed: collection symbol required")
		}
		addr := crypto.CollectionModuleAddress(collection.Symbol)
		for _, token := range collection.Tokens {
			price, ok := new(big.Int).SetString(token.Price, 10)
			if !ok || price.Sign() < 0 {
				return fmt.Errorf("oracle seed: invalid price %q for %s/%d", token.Price, collection.Symbol, token.ID)
			}
			eligible := true
			if token.Eligible != nil {
				eligible = *token.Eligible
			}
			o.SetPrice(addr, token.ID, price, eligible)
		}
	}
	return nil
}
