package assets

import (
	"errors"

	"nftlend/crypto"
	nativecommon "nftlend/native/common"
)

var (
	errNilState          = errors.New("assets engine: state not configured")
	errInvalidSymbol     = errors.New("assets engine: collection symbol required")
	errInvalidVariant    = errors.New("assets engine: unsupported collection variant")
	errCollectionExists  = errors.New("assets engine: collection already registered")
	errCollectionUnknown = errors.New("assets engine: unknown collection")
	errTokenUnknown      = errors.New("assets engine: unknown token")
	errNotMinter         = errors.New("assets engine: caller is not the collection minter")
	errNotOwner          = errors.New("assets engine: from address is not the token owner")
	errNotAuthorized     = errors.New("assets engine: caller is neither owner nor approved operator")
	errZeroAddress       = errors.New("assets engine: zero address")
)

const moduleName = "assets"

type engineState interface {
	CollectionGet(addr crypto.Address) (*Collection, bool, error)
	CollectionPut(collection *Collection) error
	TokenOwner(collection crypto.Address, tokenID uint64) (crypto.Address, bool, error)
	TokenOwnerPut(collection crypto.Address, tokenID uint64, owner crypto.Address) error
	ApprovalForAll(collection, owner, operator crypto.Address) (bool, error)
	ApprovalForAllPut(collection, owner, operator crypto.Address, approved bool) error
}

// Engine owns NFT custody: collection registration, minting, operator
// approvals and transfers. Collateral custody depends only on the subset of
// these methods it consumes.
type Engine struct {
	state  engineState
	pauses nativecommon.PauseView
}

// NewEngine constructs an assets engine.
func NewEngine() *Engine {
	return &Engine{}
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

// RegisterCollection creates a new collection under the derived address and
// returns it. The minter is the only identity allowed to mint tokens.
func (e *Engine) RegisterCollection(symbol, name string, variant CollectionVariant, minter crypto.Address) (crypto.Address, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return crypto.Address{}, err
	}
	if symbol == "" {
		return crypto.Address{}, errInvalidSymbol
	}
	if !variant.Valid() {
		return crypto.Address{}, errInvalidVariant
	}
	if minter.IsZero() {
		return crypto.Address{}, errZeroAddress
	}
	addr := CollectionAddress(symbol)
	if _, ok, err := e.state.CollectionGet(addr); err != nil {
		return crypto.Address{}, err
	} else if ok {
		return crypto.Address{}, errCollectionExists
	}
	collection := &Collection{
		Address: addr,
		Symbol:  symbol,
		Name:    name,
		Variant: variant,
		Minter:  minter,
	}
	if variant == VariantLegacy {
		collection.NextTokenID = 1
	}
	if err := e.state.CollectionPut(collection); err != nil {
		return crypto.Address{}, err
	}
	return addr, nil
}

// Mint assigns the next token of the collection to the recipient and
// returns the new token id.
func (e *Engine) Mint(caller, collection, to crypto.Address) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if to.IsZero() {
		return 0, errZeroAddress
	}
	record, ok, err := e.state.CollectionGet(collection)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errCollectionUnknown
	}
	if !record.Minter.Equal(caller) {
		return 0, errNotMinter
	}
	tokenID := record.NextTokenID
	record.NextTokenID++
	if err := e.state.TokenOwnerPut(collection, tokenID, to); err != nil {
		return 0, err
	}
	if err := e.state.CollectionPut(record); err != nil {
		return 0, err
	}
	return tokenID, nil
}

// OwnerOf resolves the current owner of a token.
func (e *Engine) OwnerOf(collection crypto.Address, tokenID uint64) (crypto.Address, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, errNilState
	}
	owner, ok, err := e.state.TokenOwner(collection, tokenID)
	if err != nil {
		return crypto.Address{}, err
	}
	if !ok {
		return crypto.Address{}, errTokenUnknown
	}
	return owner, nil
}

// SetApprovalForAll lets an owner grant or revoke an operator for every
// token they hold in the collection.
func (e *Engine) SetApprovalForAll(owner, collection, operator crypto.Address, approved bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if operator.IsZero() {
		return errZeroAddress
	}
	return e.state.ApprovalForAllPut(collection, owner, operator, approved)
}

// IsApprovedForAll reports whether the operator may move the owner's tokens.
func (e *Engine) IsApprovedForAll(collection, owner, operator crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.ApprovalForAll(collection, owner, operator)
}

// TransferFrom moves a token between accounts. The caller must be the
// current owner or an operator the owner approved for the collection.
func (e *Engine) TransferFrom(caller, collection, from, to crypto.Address, tokenID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if to.IsZero() {
		return errZeroAddress
	}
	owner, ok, err := e.state.TokenOwner(collection, tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return errTokenUnknown
	}
	if !owner.Equal(from) {
		return errNotOwner
	}
	if !caller.Equal(owner) {
		approved, err := e.state.ApprovalForAll(collection, owner, caller)
		if err != nil {
			return err
		}
		if !approved {
			return errNotAuthorized
		}
	}
	return e.state.TokenOwnerPut(collection, tokenID, to)
}

// Exported error accessors used by callers translating failures for users.
var (
	ErrCollectionUnknown = errCollectionUnknown
	ErrTokenUnknown      = errTokenUnknown
	ErrNotOwner          = errNotOwner
	ErrNotAuthorized     = errNotAuthorized
)
