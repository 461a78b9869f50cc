package collateral

import (
	"errors"
	"math/big"
	"sort"
	"strconv"
	"time"

	"nftlend/core/events"
	"nftlend/core/types"
	"nftlend/crypto"
	nativecommon "nftlend/native/common"
	"nftlend/native/lending"
)

var (
	errNilState          = errors.New("collateral engine: state not configured")
	errNilAssets         = errors.New("collateral engine: asset registry not configured")
	errNilPrices         = errors.New("collateral engine: price source not configured")
	errNilDebt           = errors.New("collateral engine: debt source not configured")
	errNilAuctions       = errors.New("collateral engine: auction house not configured")
	errNotItemOwner      = errors.New("collateral engine: caller does not own the token")
	errVaultNotApproved  = errors.New("collateral engine: vault is not an approved operator for the owner")
	errAlreadyPledged    = errors.New("collateral engine: token already pledged")
	errNotPledged        = errors.New("collateral engine: token is not pledged by the caller")
	errUnhealthyRedeem   = errors.New("collateral engine: redemption would drop the health factor below the threshold")
	errProfileNotPledger = errors.New("collateral engine: borrower does not hold the token as collateral")
)

// Exported error identities for callers translating failures.
var (
	ErrNotItemOwner     = errNotItemOwner
	ErrVaultNotApproved = errVaultNotApproved
	ErrAlreadyPledged   = errAlreadyPledged
	ErrNotPledged       = errNotPledged
	ErrUnhealthyRedeem  = errUnhealthyRedeem
)

const moduleName = "collateral"

type engineState interface {
	ProfileGet(addr crypto.Address) (*BorrowerProfile, bool, error)
	ProfilePut(profile *BorrowerProfile) error
	ProfileDelete(addr crypto.Address) error
	ProfileList() ([]*BorrowerProfile, error)
}

type nftRegistry interface {
	OwnerOf(collection crypto.Address, tokenID uint64) (crypto.Address, error)
	IsApprovedForAll(collection, owner, operator crypto.Address) (bool, error)
	TransferFrom(caller, collection, from, to crypto.Address, tokenID uint64) error
}

type priceSource interface {
	AddItem(collection crypto.Address, tokenID uint64) error
	Price(collection crypto.Address, tokenID uint64) (*big.Int, bool, error)
}

type debtSource interface {
	TotalDebt(borrower crypto.Address) (*big.Int, error)
	AccrueInterest(borrower crypto.Address) (bool, error)
}

type auctionHouse interface {
	List(borrower, collection crypto.Address, tokenID uint64, basePrice *big.Int) error
	Delist(collection crypto.Address, tokenID uint64) error
	IsListed(collection crypto.Address, tokenID uint64) (bool, error)
	ResolveExpired(collection crypto.Address, tokenID uint64) error
}

// Terms groups the valuation and liquidation parameters of the vault.
type Terms struct {
	// CollateralFactorBps discounts raw collateral value in health factor
	// computations (reference: 7500).
	CollateralFactorBps uint64
	// LiquidationThresholdPct is the health factor percentage below which
	// items are auctioned (reference: 120).
	LiquidationThresholdPct uint64
	// ListingDiscountBps scales the oracle price into the auction base
	// price (reference: 9500).
	ListingDiscountBps uint64
	// Policy selects which items are listed first.
	Policy LiquidationPolicy
}

// Engine is the collateral vault: it takes NFT custody, values pledged
// items against the price registry and drives liquidation listings.
type Engine struct {
	state    engineState
	assets   nftRegistry
	prices   priceSource
	debt     debtSource
	auctions auctionHouse
	emitter  events.Emitter
	vault    crypto.Address
	terms    Terms
	pauses   nativecommon.PauseView
	nowFn    func() int64
}

// NewEngine constructs a collateral engine. The vault address is the
// custody account holding pledged tokens and must be an approved operator
// of every pledger.
func NewEngine(vault crypto.Address, terms Terms) *Engine {
	return &Engine{
		vault:   vault,
		terms:   terms,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAssets wires the NFT registry used for custody transfers.
func (e *Engine) SetAssets(registry nftRegistry) { e.assets = registry }

// SetPriceSource wires the value registry consulted for item prices.
func (e *Engine) SetPriceSource(source priceSource) { e.prices = source }

// SetDebtSource wires the lending pool view of borrower debt.
func (e *Engine) SetDebtSource(source debtSource) { e.debt = source }

// SetAuctionHouse wires the auction engine used for liquidation listings.
func (e *Engine) SetAuctionHouse(house auctionHouse) { e.auctions = house }

// SetPauses configures the administrative pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets it to no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Vault returns the custody account address.
func (e *Engine) Vault() crypto.Address { return e.vault }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(collateralEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.assets == nil:
		return errNilAssets
	case e.prices == nil:
		return errNilPrices
	}
	return nil
}

// ProvideCollateral takes custody of the token and records it against the
// owner's profile. The owner must have approved the vault as an operator
// for the collection beforehand.
func (e *Engine) ProvideCollateral(owner, collection crypto.Address, tokenID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	currentOwner, err := e.assets.OwnerOf(collection, tokenID)
	if err != nil {
		return err
	}
	if !currentOwner.Equal(owner) {
		return errNotItemOwner
	}
	approved, err := e.assets.IsApprovedForAll(collection, owner, e.vault)
	if err != nil {
		return err
	}
	if !approved {
		return errVaultNotApproved
	}

	profile, ok, err := e.state.ProfileGet(owner)
	if err != nil {
		return err
	}
	if !ok {
		profile = &BorrowerProfile{Borrower: owner}
	}
	if profile.Find(collection, tokenID) >= 0 {
		return errAlreadyPledged
	}

	if err := e.prices.AddItem(collection, tokenID); err != nil {
		return err
	}
	if err := e.assets.TransferFrom(e.vault, collection, owner, e.vault, tokenID); err != nil {
		return err
	}

	now := e.now()
	profile.Items = append(profile.Items, CollateralItem{Collection: collection, TokenID: tokenID, PledgedAt: now})
	if err := e.state.ProfilePut(profile); err != nil {
		return err
	}

	e.emit(newItemEvent(EventTypeCollateralAdded, owner, collection, tokenID, now))
	return nil
}

// RedeemCollateral returns custody to the borrower. With outstanding debt
// the redemption is only allowed when the health factor stays at or above
// the liquidation threshold without the item. A listed item is delisted
// first, refunding any outstanding bid.
func (e *Engine) RedeemCollateral(owner, collection crypto.Address, tokenID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.debt == nil {
		return errNilDebt
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	profile, ok, err := e.state.ProfileGet(owner)
	if err != nil {
		return err
	}
	if !ok {
		return errNotPledged
	}
	idx := profile.Find(collection, tokenID)
	if idx < 0 {
		return errNotPledged
	}

	totalDebt, err := e.debt.TotalDebt(owner)
	if err != nil {
		return err
	}
	if totalDebt.Sign() > 0 {
		remaining, err := e.valueExcluding(profile, collection, tokenID)
		if err != nil {
			return err
		}
		if lending.HealthFactor(remaining, totalDebt, e.terms.CollateralFactorBps) < e.terms.LiquidationThresholdPct {
			return errUnhealthyRedeem
		}
	}

	if e.auctions != nil {
		listed, err := e.auctions.IsListed(collection, tokenID)
		if err != nil {
			return err
		}
		if listed {
			if err := e.auctions.Delist(collection, tokenID); err != nil {
				return err
			}
		}
	}

	if err := e.assets.TransferFrom(e.vault, collection, e.vault, owner, tokenID); err != nil {
		return err
	}
	profile.Items = append(profile.Items[:idx], profile.Items[idx+1:]...)
	if len(profile.Items) == 0 && !profile.BeingLiquidated {
		if err := e.state.ProfileDelete(owner); err != nil {
			return err
		}
	} else if err := e.state.ProfilePut(profile); err != nil {
		return err
	}

	e.emit(newItemEvent(EventTypeCollateralRedeemed, owner, collection, tokenID, e.now()))
	return nil
}

// ReleaseTo transfers a pledged token out of custody after an auction
// settles and drops it from the borrower's profile. Called by the auction
// engine, never directly by users.
func (e *Engine) ReleaseTo(borrower, recipient, collection crypto.Address, tokenID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	profile, ok, err := e.state.ProfileGet(borrower)
	if err != nil {
		return err
	}
	if !ok {
		return errProfileNotPledger
	}
	idx := profile.Find(collection, tokenID)
	if idx < 0 {
		return errProfileNotPledger
	}
	if err := e.assets.TransferFrom(e.vault, collection, e.vault, recipient, tokenID); err != nil {
		return err
	}
	profile.Items = append(profile.Items[:idx], profile.Items[idx+1:]...)
	if len(profile.Items) == 0 && !profile.BeingLiquidated {
		return e.state.ProfileDelete(borrower)
	}
	return e.state.ProfilePut(profile)
}

// Profile returns a copy of the borrower's collateral profile.
func (e *Engine) Profile(borrower crypto.Address) (*BorrowerProfile, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	profile, ok, err := e.state.ProfileGet(borrower)
	if err != nil || !ok {
		return nil, false, err
	}
	return profile.Clone(), true, nil
}

// CollateralValue sums the oracle prices of the borrower's pledged items.
// Items without a usable price (unknown or ineligible) contribute zero.
func (e *Engine) CollateralValue(borrower crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.prices == nil {
		return nil, errNilPrices
	}
	profile, ok, err := e.state.ProfileGet(borrower)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	if !ok {
		return total, nil
	}
	for _, item := range profile.Items {
		price, usable, err := e.prices.Price(item.Collection, item.TokenID)
		if err != nil {
			return nil, err
		}
		if usable {
			total.Add(total, price)
		}
	}
	return total, nil
}

func (e *Engine) valueExcluding(profile *BorrowerProfile, collection crypto.Address, tokenID uint64) (*big.Int, error) {
	total := big.NewInt(0)
	for _, item := range profile.Items {
		if item.TokenID == tokenID && item.Collection.Equal(collection) {
			continue
		}
		price, usable, err := e.prices.Price(item.Collection, item.TokenID)
		if err != nil {
			return nil, err
		}
		if usable {
			total.Add(total, price)
		}
	}
	return total, nil
}

// HealthFactor reports the borrower's current health factor from live
// collateral value and projected total debt.
func (e *Engine) HealthFactor(borrower crypto.Address) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if e.debt == nil {
		return 0, errNilDebt
	}
	value, err := e.CollateralValue(borrower)
	if err != nil {
		return 0, err
	}
	totalDebt, err := e.debt.TotalDebt(borrower)
	if err != nil {
		return 0, err
	}
	return lending.HealthFactor(value, totalDebt, e.terms.CollateralFactorBps), nil
}

// liquidationCandidate pairs a pledged item with its usable oracle price.
type liquidationCandidate struct {
	Item  CollateralItem
	Price *big.Int
}

// NFTsToLiquidate selects the items to auction for an unhealthy position.
// Items are taken in policy order until the projected health factor after
// their discounted sale proceeds recovers to the threshold. The selection
// is a pure computation over current prices and debt.
func (e *Engine) NFTsToLiquidate(borrower crypto.Address) ([]CollateralItem, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.prices == nil {
		return nil, errNilPrices
	}
	if e.debt == nil {
		return nil, errNilDebt
	}
	profile, ok, err := e.state.ProfileGet(borrower)
	if err != nil || !ok {
		return nil, err
	}
	totalDebt, err := e.debt.TotalDebt(borrower)
	if err != nil {
		return nil, err
	}
	if totalDebt.Sign() == 0 {
		return nil, nil
	}

	candidates := make([]liquidationCandidate, 0, len(profile.Items))
	remainingValue := big.NewInt(0)
	for _, item := range profile.Items {
		price, usable, err := e.prices.Price(item.Collection, item.TokenID)
		if err != nil {
			return nil, err
		}
		if !usable {
			continue
		}
		candidates = append(candidates, liquidationCandidate{Item: item, Price: price})
		remainingValue.Add(remainingValue, price)
	}
	if lending.HealthFactor(remainingValue, totalDebt, e.terms.CollateralFactorBps) >= e.terms.LiquidationThresholdPct {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if e.terms.Policy == PolicyCheapestFirst {
			return candidates[i].Price.Cmp(candidates[j].Price) < 0
		}
		return candidates[i].Price.Cmp(candidates[j].Price) > 0
	})

	selected := make([]CollateralItem, 0, len(candidates))
	remainingDebt := new(big.Int).Set(totalDebt)
	for _, candidate := range candidates {
		selected = append(selected, candidate.Item)
		remainingValue.Sub(remainingValue, candidate.Price)
		proceeds := e.basePrice(candidate.Price)
		remainingDebt.Sub(remainingDebt, proceeds)
		if remainingDebt.Sign() <= 0 {
			break
		}
		if lending.HealthFactor(remainingValue, remainingDebt, e.terms.CollateralFactorBps) >= e.terms.LiquidationThresholdPct {
			break
		}
	}
	return selected, nil
}

// basePrice discounts an oracle price into the auction base price.
func (e *Engine) basePrice(price *big.Int) *big.Int {
	out := new(big.Int).Mul(price, new(big.Int).SetUint64(e.terms.ListingDiscountBps))
	return out.Quo(out, big.NewInt(10_000))
}

// Refresh drives one borrower through the liquidation state machine:
// accrue interest, resolve any expired auctions on their items, then
// reconcile the set of live listings with the current liquidation
// selection. Safe to call repeatedly; a healthy position with no listings
// is a no-op.
func (e *Engine) Refresh(borrower crypto.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.debt == nil {
		return errNilDebt
	}
	if e.auctions == nil {
		return errNilAuctions
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}

	if _, err := e.debt.AccrueInterest(borrower); err != nil {
		return err
	}

	profile, ok, err := e.state.ProfileGet(borrower)
	if err != nil || !ok {
		return err
	}

	// Settle finished auctions first. Settlement mutates debt, custody and
	// the profile, so iterate a snapshot and reload afterwards.
	for _, item := range profile.Clone().Items {
		listed, err := e.auctions.IsListed(item.Collection, item.TokenID)
		if err != nil {
			return err
		}
		if !listed {
			continue
		}
		if err := e.auctions.ResolveExpired(item.Collection, item.TokenID); err != nil {
			return err
		}
	}
	profile, ok, err = e.state.ProfileGet(borrower)
	if err != nil || !ok {
		return err
	}

	selection, err := e.NFTsToLiquidate(borrower)
	if err != nil {
		return err
	}
	selectedKeys := make(map[string]bool, len(selection))
	for _, item := range selection {
		selectedKeys[itemKey(item.Collection, item.TokenID)] = true
	}

	for _, item := range profile.Items {
		listed, err := e.auctions.IsListed(item.Collection, item.TokenID)
		if err != nil {
			return err
		}
		key := itemKey(item.Collection, item.TokenID)
		switch {
		case selectedKeys[key] && !listed:
			price, usable, err := e.prices.Price(item.Collection, item.TokenID)
			if err != nil {
				return err
			}
			if !usable {
				continue
			}
			if err := e.auctions.List(borrower, item.Collection, item.TokenID, e.basePrice(price)); err != nil {
				return err
			}
		case !selectedKeys[key] && listed:
			if err := e.auctions.Delist(item.Collection, item.TokenID); err != nil {
				return err
			}
		}
	}

	// The flag tracks the health factor, not the listing selection: a
	// position whose collateral has no usable price has an empty selection
	// but is still underwater.
	hf, err := e.HealthFactor(borrower)
	if err != nil {
		return err
	}
	flag := hf < e.terms.LiquidationThresholdPct
	if profile.BeingLiquidated != flag {
		profile.BeingLiquidated = flag
		if len(profile.Items) == 0 && !flag {
			return e.state.ProfileDelete(borrower)
		}
		return e.state.ProfilePut(profile)
	}
	return nil
}

// RefreshAll runs Refresh over every stored profile. The keeper loop calls
// this on a schedule.
func (e *Engine) RefreshAll() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	profiles, err := e.state.ProfileList()
	if err != nil {
		return err
	}
	for _, profile := range profiles {
		if err := e.Refresh(profile.Borrower); err != nil {
			return err
		}
	}
	return nil
}

func itemKey(collection crypto.Address, tokenID uint64) string {
	return collection.String() + "/" + strconv.FormatUint(tokenID, 10)
}
