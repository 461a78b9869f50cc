package pricing

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
	errNilState     = errors.New("pricing engine: state not configured")
	errUnauthorized = errors.New("pricing engine: caller is not the configured price feed")
	errUnknownItem  = errors.New("pricing engine: item was never added")
	errInvalidPrice = errors.New("pricing engine: price must be non-negative")
)

// Exported error identities for callers translating failures.
var (
	ErrUnauthorized = errUnauthorized
	ErrUnknownItem  = errUnknownItem
)

const moduleName = "pricing"

type engineState interface {
	PriceGet(collection crypto.Address, tokenID uint64) (*PriceRecord, bool, error)
	PricePut(record *PriceRecord) error
	PriceList() ([]*PriceRecord, error)
}

// Engine is the single source of truth for per-item pricing. Registration
// is demand-driven (AddItem) while updates are supply-driven (PushPrice),
// which lets the registry serve both pull and push oracles unchanged.
type Engine struct {
	state   engineState
	emitter events.Emitter
	oracle  crypto.Address
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine constructs a pricing engine bound to the given oracle identity.
func NewEngine(oracle crypto.Address) *Engine {
	return &Engine{
		oracle:  oracle,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

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

// Oracle returns the configured price feed identity.
func (e *Engine) Oracle() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.oracle
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(pricingEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// AddItem registers a price record in the pending state and emits a price
// request toward the feed. Re-adding an item that is already tracked is a
// no-op so collateral churn cannot cause request storms.
func (e *Engine) AddItem(collection crypto.Address, tokenID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if _, ok, err := e.state.PriceGet(collection, tokenID); err != nil {
		return err
	} else if ok {
		return nil
	}
	record := &PriceRecord{
		Collection:  collection,
		TokenID:     tokenID,
		Price:       big.NewInt(0),
		Pending:     true,
		LastUpdated: e.now(),
	}
	if err := e.state.PricePut(record); err != nil {
		return err
	}
	e.emit(newNftAddedEvent(record))
	e.emit(newRequestPriceEvent(collection, tokenID))
	return nil
}

// PushPrice records a feed valuation for a tracked item. Only the
// configured oracle identity may call it.
func (e *Engine) PushPrice(caller, collection crypto.Address, tokenID uint64, price *big.Int, eligible bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !caller.Equal(e.oracle) {
		return errUnauthorized
	}
	if price == nil || price.Sign() < 0 {
		return errInvalidPrice
	}
	record, ok, err := e.state.PriceGet(collection, tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return errUnknownItem
	}
	record.Price = new(big.Int).Set(price)
	record.Pending = false
	record.Known = true
	record.Eligible = eligible
	record.LastUpdated = e.now()
	if err := e.state.PricePut(record); err != nil {
		return err
	}
	e.emit(newNftPriceUpdatedEvent(record))
	return nil
}

// Price returns the current valuation for an item and whether it may be
// counted. It never fails: unknown, pending or ineligible items report
// ok=false and callers must value them at zero.
func (e *Engine) Price(collection crypto.Address, tokenID uint64) (*big.Int, bool, error) {
	if e == nil || e.state == nil {
		return big.NewInt(0), false, errNilState
	}
	record, ok, err := e.state.PriceGet(collection, tokenID)
	if err != nil {
		return big.NewInt(0), false, err
	}
	if !ok || !record.Known || !record.Eligible {
		return big.NewInt(0), false, nil
	}
	return new(big.Int).Set(record.Price), true, nil
}

// Record returns the full price record for inspection.
func (e *Engine) Record(collection crypto.Address, tokenID uint64) (*PriceRecord, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	record, ok, err := e.state.PriceGet(collection, tokenID)
	if err != nil || !ok {
		return nil, false, err
	}
	return record.Clone(), true, nil
}

// PendingItems returns the records still waiting on a feed answer.
func (e *Engine) PendingItems() ([]*PriceRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	records, err := e.state.PriceList()
	if err != nil {
		return nil, err
	}
	pending := make([]*PriceRecord, 0, len(records))
	for _, record := range records {
		if record.Pending {
			pending = append(pending, record.Clone())
		}
	}
	return pending, nil
}

// TrackedItems returns every registered record in insertion order.
func (e *Engine) TrackedItems() ([]*PriceRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	records, err := e.state.PriceList()
	if err != nil {
		return nil, err
	}
	out := make([]*PriceRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.Clone())
	}
	return out, nil
}
