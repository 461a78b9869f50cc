package auction

import (
	"errors"
	"math/big"
	"time"

	"nftlend/core/events"
	"nftlend/core/types"
	"nftlend/crypto"
	nativecommon "nftlend/native/common"
)

var (
	errNilState            = errors.New("auction engine: state not configured")
	errNilSettler          = errors.New("auction engine: debt settler not configured")
	errNilReleaser         = errors.New("auction engine: custody releaser not configured")
	errAlreadyListed       = errors.New("auction engine: item already listed")
	errNotListed           = errors.New("auction engine: item is not listed")
	errAuctionEnded        = errors.New("auction engine: auction window has closed")
	errAuctionRunning      = errors.New("auction engine: auction window is still open")
	errBidTooLow           = errors.New("auction engine: bid must exceed the base price and the highest bid")
	errInsufficientBalance = errors.New("auction engine: insufficient account balance")
	errHasBids             = errors.New("auction engine: item has bids and settles to the highest bidder")
	errWrongPrice          = errors.New("auction engine: purchase must match the base price exactly")
	errInvalidBasePrice    = errors.New("auction engine: base price must be positive")
)

// Exported error identities for callers translating failures.
var (
	ErrAlreadyListed       = errAlreadyListed
	ErrNotListed           = errNotListed
	ErrAuctionEnded        = errAuctionEnded
	ErrAuctionRunning      = errAuctionRunning
	ErrBidTooLow           = errBidTooLow
	ErrInsufficientBalance = errInsufficientBalance
	ErrHasBids             = errHasBids
	ErrWrongPrice          = errWrongPrice
)

const moduleName = "auction"

type engineState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	ListingGet(collection crypto.Address, tokenID uint64) (*Listing, bool, error)
	ListingPut(listing *Listing) error
	ListingDelete(collection crypto.Address, tokenID uint64) error
	ListingList() ([]*Listing, error)
}

type debtSettler interface {
	Liquidate(borrower, collection crypto.Address, tokenID uint64, proceeds *big.Int) error
}

type custodyReleaser interface {
	ReleaseTo(borrower, recipient, collection crypto.Address, tokenID uint64) error
}

// Engine runs liquidation auctions. Bids are escrowed in a module account
// and refunded when outbid; settlement credits the sale proceeds to the
// pool treasury and hands the item to the winner.
type Engine struct {
	state    engineState
	settler  debtSettler
	releaser custodyReleaser
	emitter  events.Emitter
	escrow   crypto.Address
	treasury crypto.Address
	duration int64
	pauses   nativecommon.PauseView
	nowFn    func() int64
}

// NewEngine constructs an auction engine. The escrow address holds live
// bids; the treasury is the lending pool account receiving sale proceeds.
func NewEngine(escrow, treasury crypto.Address, duration int64) *Engine {
	return &Engine{
		escrow:   escrow,
		treasury: treasury,
		duration: duration,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetDebtSettler wires the lending pool hook that books sale proceeds.
func (e *Engine) SetDebtSettler(settler debtSettler) { e.settler = settler }

// SetCustodyReleaser wires the collateral vault hook that hands items to
// auction winners.
func (e *Engine) SetCustodyReleaser(releaser custodyReleaser) { e.releaser = releaser }

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

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(auctionEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	acc.EnsureDefaults()
	return acc, nil
}

func (e *Engine) transfer(from, to crypto.Address, amount *big.Int) error {
	fromAcc, err := e.loadAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	toAcc, err := e.loadAccount(to)
	if err != nil {
		return err
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

// List opens an auction for a pledged item. Called by the collateral vault
// when a position breaches the liquidation threshold.
func (e *Engine) List(borrower, collection crypto.Address, tokenID uint64, basePrice *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if basePrice == nil || basePrice.Sign() <= 0 {
		return errInvalidBasePrice
	}
	if _, ok, err := e.state.ListingGet(collection, tokenID); err != nil {
		return err
	} else if ok {
		return errAlreadyListed
	}

	now := e.now()
	listing := &Listing{
		Collection: collection,
		TokenID:    tokenID,
		Borrower:   borrower,
		BasePrice:  new(big.Int).Set(basePrice),
		StartedAt:  now,
		Duration:   e.duration,
		HighestBid: big.NewInt(0),
	}
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(newListedEvent(listing, now))
	return nil
}

// Delist withdraws a listing, refunding any escrowed bid. Called when the
// position recovers or the borrower redeems the item.
func (e *Engine) Delist(collection crypto.Address, tokenID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	listing, ok, err := e.state.ListingGet(collection, tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotListed
	}
	listing.EnsureDefaults()
	if listing.HasBid() {
		if err := e.transfer(e.escrow, listing.HighestBidder, listing.HighestBid); err != nil {
			return err
		}
	}
	if err := e.state.ListingDelete(collection, tokenID); err != nil {
		return err
	}
	e.emit(newDelistedEvent(collection, tokenID, e.now()))
	return nil
}

// IsListed reports whether the item currently has a listing.
func (e *Engine) IsListed(collection crypto.Address, tokenID uint64) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	_, ok, err := e.state.ListingGet(collection, tokenID)
	return ok, err
}

// Listing returns a copy of the item's listing.
func (e *Engine) Listing(collection crypto.Address, tokenID uint64) (*Listing, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	listing, ok, err := e.state.ListingGet(collection, tokenID)
	if err != nil || !ok {
		return nil, false, err
	}
	return listing.Clone(), true, nil
}

// Listings returns copies of all live listings.
func (e *Engine) Listings() ([]*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listings, err := e.state.ListingList()
	if err != nil {
		return nil, err
	}
	out := make([]*Listing, len(listings))
	for i, listing := range listings {
		out[i] = listing.Clone()
	}
	return out, nil
}

// PlaceBid escrows a bid on a live listing. The bid must strictly exceed
// both the base price and the current highest bid; the previous bidder is
// refunded before the new bid is accepted.
func (e *Engine) PlaceBid(bidder, collection crypto.Address, tokenID uint64, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, ok, err := e.state.ListingGet(collection, tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotListed
	}
	listing.EnsureDefaults()
	now := e.now()
	if listing.Expired(now) || listing.EndedNoWinner {
		return errAuctionEnded
	}
	if amount == nil || amount.Cmp(listing.BasePrice) <= 0 || amount.Cmp(listing.HighestBid) <= 0 {
		return errBidTooLow
	}

	bidderAcc, err := e.loadAccount(bidder)
	if err != nil {
		return err
	}
	if bidderAcc.Balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}

	if listing.HasBid() {
		if err := e.transfer(e.escrow, listing.HighestBidder, listing.HighestBid); err != nil {
			return err
		}
	}
	if err := e.transfer(bidder, e.escrow, amount); err != nil {
		return err
	}

	listing.HighestBid = new(big.Int).Set(amount)
	listing.HighestBidder = bidder
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(newBidEvent(listing, bidder, amount, now))
	return nil
}

// Purchase buys an item outright after its auction expired with no bids.
// The payment must match the base price exactly.
func (e *Engine) Purchase(buyer, collection crypto.Address, tokenID uint64, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, ok, err := e.state.ListingGet(collection, tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotListed
	}
	listing.EnsureDefaults()
	if !listing.Expired(e.now()) {
		return errAuctionRunning
	}
	if listing.HasBid() {
		return errHasBids
	}
	if amount == nil || amount.Cmp(listing.BasePrice) != 0 {
		return errWrongPrice
	}

	if err := e.transfer(buyer, e.treasury, amount); err != nil {
		return err
	}
	if err := e.settle(listing, buyer, amount); err != nil {
		return err
	}
	e.emit(newPurchasedEvent(listing, buyer, amount, e.now()))
	return nil
}

// ResolveExpired finishes an auction whose window has closed. With a bid,
// the escrowed funds move to the treasury and the item settles to the
// highest bidder. Without bids, the listing is marked ended exactly once
// and stays open for a base-price purchase. Calls before expiry and
// repeated calls are no-ops.
func (e *Engine) ResolveExpired(collection crypto.Address, tokenID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	listing, ok, err := e.state.ListingGet(collection, tokenID)
	if err != nil || !ok {
		return err
	}
	listing.EnsureDefaults()
	now := e.now()
	if !listing.Expired(now) {
		return nil
	}

	if listing.HasBid() {
		if err := e.transfer(e.escrow, e.treasury, listing.HighestBid); err != nil {
			return err
		}
		if err := e.settle(listing, listing.HighestBidder, listing.HighestBid); err != nil {
			return err
		}
		e.emit(newWonEvent(listing, now))
		return nil
	}

	if !listing.EndedNoWinner {
		listing.EndedNoWinner = true
		if err := e.state.ListingPut(listing); err != nil {
			return err
		}
		e.emit(newNoWinnerEvent(listing, now))
	}
	return nil
}

// ResolveAll runs ResolveExpired across every listing. The keeper loop
// calls this on a schedule.
func (e *Engine) ResolveAll() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	listings, err := e.state.ListingList()
	if err != nil {
		return err
	}
	for _, listing := range listings {
		if err := e.ResolveExpired(listing.Collection, listing.TokenID); err != nil {
			return err
		}
	}
	return nil
}

// settle books the proceeds against the borrower's debt and releases the
// item to the recipient. The proceeds are already in the treasury account.
func (e *Engine) settle(listing *Listing, recipient crypto.Address, proceeds *big.Int) error {
	if e.settler == nil {
		return errNilSettler
	}
	if e.releaser == nil {
		return errNilReleaser
	}
	if err := e.state.ListingDelete(listing.Collection, listing.TokenID); err != nil {
		return err
	}
	if err := e.settler.Liquidate(listing.Borrower, listing.Collection, listing.TokenID, proceeds); err != nil {
		return err
	}
	return e.releaser.ReleaseTo(listing.Borrower, recipient, listing.Collection, listing.TokenID)
}
