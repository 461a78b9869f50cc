package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"nftlend/core/events"
	"nftlend/core/state"
	"nftlend/core/types"
	"nftlend/crypto"
	"nftlend/native/assets"
	"nftlend/native/auction"
	"nftlend/native/collateral"
	"nftlend/native/common"
	"nftlend/native/lending"
	"nftlend/native/pricing"
	"nftlend/storage"
)

// Module account names. Addresses are derived deterministically so every
// node agrees on the treasury, vault and escrow identities.
const (
	PoolModule   = "lendingpool"
	VaultModule  = "collateralvault"
	EscrowModule = "auctionescrow"
)

var errNoMockOracle = errors.New("node: no mock oracle configured")

// Options gathers the protocol parameters the node is started with.
type Options struct {
	// OracleAddress is the identity allowed to push prices. Ignored when
	// MockOracle is set; the mock feed then runs under a derived identity.
	OracleAddress crypto.Address
	// MockOracle runs an in-process price feed answering requests during
	// Refresh instead of waiting for external pushes.
	MockOracle bool
	// OracleSeed optionally preloads the mock feed from a YAML fixture.
	OracleSeed []byte

	Risk     lending.RiskParameters
	Interest lending.InterestTerms
	// ListingDiscountBps scales oracle prices into auction base prices.
	ListingDiscountBps uint64
	// LiquidationPolicy orders collateral for liquidation.
	LiquidationPolicy collateral.LiquidationPolicy
	// AuctionDuration is the bidding window in seconds.
	AuctionDuration int64

	// Pauses optionally disables modules by name.
	Pauses common.PauseSet

	Logger *slog.Logger
}

// DefaultOptions returns the reference protocol parameters.
func DefaultOptions() Options {
	return Options{
		MockOracle: true,
		Risk: lending.RiskParameters{
			CollateralFactorBps:     7500,
			LiquidationThresholdPct: 120,
		},
		Interest: lending.InterestTerms{
			OriginationBps: 1000,
			PeriodicBps:    200,
			PeriodSeconds:  30 * 24 * 60 * 60,
		},
		ListingDiscountBps: 9500,
		LiquidationPolicy:  collateral.PolicyLargestFirst,
		AuctionDuration:    20_000,
	}
}

// Node wires the engines over one state manager and serializes every
// state-mutating entry point behind a single mutex, standing in for the
// sequential execution environment the protocol assumes.
type Node struct {
	mu sync.Mutex

	db       storage.Database
	state    *state.Manager
	recorder *events.Recorder
	logger   *slog.Logger

	assets     *assets.Engine
	pricing    *pricing.Engine
	lending    *lending.Engine
	collateral *collateral.Engine
	auction    *auction.Engine

	oracle *pricing.MockOracle

	poolAddress   crypto.Address
	vaultAddress  crypto.Address
	escrowAddress crypto.Address
}

// NewNode assembles the protocol over the given database.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{
		db:            db,
		state:         state.NewManager(db),
		recorder:      events.NewRecorder(),
		logger:        logger,
		poolAddress:   crypto.ModuleAddress(PoolModule),
		vaultAddress:  crypto.ModuleAddress(VaultModule),
		escrowAddress: crypto.ModuleAddress(EscrowModule),
	}

	oracleAddress := opts.OracleAddress
	if opts.MockOracle {
		oracleAddress = crypto.ModuleAddress("mockoracle")
		n.oracle = pricing.NewMockOracle(oracleAddress)
		if len(opts.OracleSeed) > 0 {
			if err := n.oracle.LoadSeed(opts.OracleSeed); err != nil {
				return nil, err
			}
		}
	} else if oracleAddress.IsZero() {
		return nil, errors.New("node: oracle address required without a mock oracle")
	}

	n.assets = assets.NewEngine()
	n.assets.SetState(n.state)
	n.assets.SetPauses(opts.Pauses)

	n.pricing = pricing.NewEngine(oracleAddress)
	n.pricing.SetState(n.state)
	n.pricing.SetEmitter(n.recorder)
	n.pricing.SetPauses(opts.Pauses)

	n.lending = lending.NewEngine(n.poolAddress, opts.Risk, opts.Interest)
	n.lending.SetState(n.state)
	n.lending.SetEmitter(n.recorder)
	n.lending.SetPauses(opts.Pauses)

	n.collateral = collateral.NewEngine(n.vaultAddress, collateral.Terms{
		CollateralFactorBps:     opts.Risk.CollateralFactorBps,
		LiquidationThresholdPct: opts.Risk.LiquidationThresholdPct,
		ListingDiscountBps:      opts.ListingDiscountBps,
		Policy:                  opts.LiquidationPolicy,
	})
	n.collateral.SetState(n.state)
	n.collateral.SetAssets(n.assets)
	n.collateral.SetPriceSource(n.pricing)
	n.collateral.SetDebtSource(n.lending)
	n.collateral.SetEmitter(n.recorder)
	n.collateral.SetPauses(opts.Pauses)

	n.auction = auction.NewEngine(n.escrowAddress, n.poolAddress, opts.AuctionDuration)
	n.auction.SetState(n.state)
	n.auction.SetDebtSettler(n.lending)
	n.auction.SetCustodyReleaser(n.collateral)
	n.auction.SetEmitter(n.recorder)
	n.auction.SetPauses(opts.Pauses)

	n.lending.SetCollateralSource(n.collateral)
	n.collateral.SetAuctionHouse(n.auction)

	return n, nil
}

// SetNowFunc overrides the time source on every engine. Tests drive it.
func (n *Node) SetNowFunc(now func() int64) {
	n.pricing.SetNowFunc(now)
	n.lending.SetNowFunc(now)
	n.collateral.SetNowFunc(now)
	n.auction.SetNowFunc(now)
}

// PoolAddress returns the pool treasury account.
func (n *Node) PoolAddress() crypto.Address { return n.poolAddress }

// VaultAddress returns the collateral custody account.
func (n *Node) VaultAddress() crypto.Address { return n.vaultAddress }

// EscrowAddress returns the auction escrow account.
func (n *Node) EscrowAddress() crypto.Address { return n.escrowAddress }

// OracleAddress returns the identity allowed to push prices.
func (n *Node) OracleAddress() crypto.Address { return n.pricing.Oracle() }

// drain returns the events raised by the call that just finished.
func (n *Node) drain() []*types.Event {
	evts := n.recorder.Drain()
	for _, evt := range evts {
		n.logger.Info("protocol event", "type", evt.Type)
	}
	return evts
}

func (n *Node) run(op string, fn func() error) ([]*types.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recorder.Reset()
	if err := fn(); err != nil {
		n.recorder.Reset()
		n.logger.Warn("operation rejected", "op", op, "err", err)
		return nil, err
	}
	return n.drain(), nil
}

// --- funding and assets ---

// MintBalance credits an account, used by genesis seeding and local
// scenario scripts.
func (n *Node) MintBalance(addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("node: mint amount must be positive")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	account, err := n.state.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return n.state.PutAccount(addr, account)
}

// Balance reports the account's currency balance.
func (n *Node) Balance(addr crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	account, err := n.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// RegisterCollection creates an NFT collection and returns its address.
func (n *Node) RegisterCollection(symbol, name string, variant assets.CollectionVariant, minter crypto.Address) (crypto.Address, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.assets.RegisterCollection(symbol, name, variant, minter)
}

// MintNFT mints the next token of the collection to the recipient.
func (n *Node) MintNFT(caller, collection, to crypto.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.assets.Mint(caller, collection, to)
}

// SetApprovalForAll grants or revokes an operator over a collection.
func (n *Node) SetApprovalForAll(owner, collection, operator crypto.Address, approved bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.assets.SetApprovalForAll(owner, collection, operator, approved)
}

// ApproveVault approves the collateral vault as an operator, the step every
// borrower performs before pledging.
func (n *Node) ApproveVault(owner, collection crypto.Address, approved bool) error {
	return n.SetApprovalForAll(owner, collection, n.vaultAddress, approved)
}

// OwnerOf resolves the current owner of a token.
func (n *Node) OwnerOf(collection crypto.Address, tokenID uint64) (crypto.Address, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.assets.OwnerOf(collection, tokenID)
}

// --- lending pool ---

func (n *Node) Supply(lender crypto.Address, amount *big.Int) ([]*types.Event, error) {
	return n.run("supply", func() error { return n.lending.Supply(lender, amount) })
}

func (n *Node) Withdraw(lender crypto.Address, amount *big.Int) ([]*types.Event, error) {
	return n.run("withdraw", func() error { return n.lending.Withdraw(lender, amount) })
}

func (n *Node) Borrow(borrower crypto.Address, amount *big.Int) ([]*types.Event, error) {
	return n.run("borrow", func() error { return n.lending.Borrow(borrower, amount) })
}

func (n *Node) Repay(borrower crypto.Address, amount *big.Int) ([]*types.Event, error) {
	return n.run("repay", func() error { return n.lending.Repay(borrower, amount) })
}

// UserAccountData aggregates debt, supplied balance, collateral value and
// health factor for one account.
func (n *Node) UserAccountData(addr crypto.Address) (*lending.AccountData, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lending.UserAccountData(addr)
}

// Pool returns the pool ledger.
func (n *Node) Pool() (*lending.PoolLedger, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lending.Pool()
}

// --- collateral ---

func (n *Node) ProvideCollateral(owner, collection crypto.Address, tokenID uint64) ([]*types.Event, error) {
	return n.run("provideCollateral", func() error {
		return n.collateral.ProvideCollateral(owner, collection, tokenID)
	})
}

func (n *Node) RedeemCollateral(owner, collection crypto.Address, tokenID uint64) ([]*types.Event, error) {
	return n.run("redeemCollateral", func() error {
		return n.collateral.RedeemCollateral(owner, collection, tokenID)
	})
}

// CollateralProfile returns the borrower's pledged items and liquidation
// flag.
func (n *Node) CollateralProfile(borrower crypto.Address) (*collateral.BorrowerProfile, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.collateral.Profile(borrower)
}

// HealthFactor reports the borrower's current health factor.
func (n *Node) HealthFactor(borrower crypto.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.collateral.HealthFactor(borrower)
}

// NFTsToLiquidate previews which items a refresh would list.
func (n *Node) NFTsToLiquidate(borrower crypto.Address) ([]collateral.CollateralItem, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.collateral.NFTsToLiquidate(borrower)
}

// --- pricing ---

// PushPrice records an external feed valuation. The caller must be the
// configured oracle identity.
func (n *Node) PushPrice(caller, collection crypto.Address, tokenID uint64, price *big.Int, eligible bool) ([]*types.Event, error) {
	return n.run("pushPrice", func() error {
		return n.pricing.PushPrice(caller, collection, tokenID, price, eligible)
	})
}

// SetMockPrice updates the in-process feed and pushes the new valuation
// immediately. Only available in mock oracle mode.
func (n *Node) SetMockPrice(collection crypto.Address, tokenID uint64, price *big.Int, eligible bool) ([]*types.Event, error) {
	if n.oracle == nil {
		return nil, errNoMockOracle
	}
	return n.run("setMockPrice", func() error {
		n.oracle.SetPrice(collection, tokenID, price, eligible)
		if err := n.oracle.ServePending(n.pricing); err != nil {
			return err
		}
		return n.oracle.PushAll(n.pricing)
	})
}

// Price returns the usable valuation for an item, zero when unknown or
// ineligible.
func (n *Node) Price(collection crypto.Address, tokenID uint64) (*big.Int, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pricing.Price(collection, tokenID)
}

// PriceRecord returns the full registry record for an item.
func (n *Node) PriceRecord(collection crypto.Address, tokenID uint64) (*pricing.PriceRecord, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pricing.Record(collection, tokenID)
}

// --- auctions ---

func (n *Node) PlaceBid(bidder, collection crypto.Address, tokenID uint64, amount *big.Int) ([]*types.Event, error) {
	return n.run("placeBid", func() error {
		return n.auction.PlaceBid(bidder, collection, tokenID, amount)
	})
}

func (n *Node) Purchase(buyer, collection crypto.Address, tokenID uint64, amount *big.Int) ([]*types.Event, error) {
	return n.run("purchase", func() error {
		return n.auction.Purchase(buyer, collection, tokenID, amount)
	})
}

// Listing returns the live auction for an item.
func (n *Node) Listing(collection crypto.Address, tokenID uint64) (*auction.Listing, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.auction.Listing(collection, tokenID)
}

// Listings returns every live auction.
func (n *Node) Listings() ([]*auction.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.auction.Listings()
}

// --- keeper ---

// Refresh advances the whole protocol one keeper tick: the mock feed (when
// configured) answers pending requests and pushes price changes, expired
// auctions settle, and every borrower's liquidation state is reconciled.
func (n *Node) Refresh() ([]*types.Event, error) {
	return n.run("refresh", func() error {
		if n.oracle != nil {
			if err := n.oracle.ServePending(n.pricing); err != nil {
				return err
			}
			if err := n.oracle.PushAll(n.pricing); err != nil {
				return err
			}
		}
		if err := n.auction.ResolveAll(); err != nil {
			return err
		}
		return n.collateral.RefreshAll()
	})
}

// MockOracle exposes the in-process feed for scenario seeding. Nil unless
// the node was started in mock oracle mode.
func (n *Node) MockOracle() *pricing.MockOracle { return n.oracle }

// Close releases the underlying database.
func (n *Node) Close() {
	n.db.Close()
}
