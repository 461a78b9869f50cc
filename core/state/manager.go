package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"nftlend/core/types"
	"nftlend/crypto"
	"nftlend/native/assets"
	"nftlend/native/auction"
	"nftlend/native/collateral"
	"nftlend/native/lending"
	"nftlend/native/pricing"
	"nftlend/storage"
)

// Manager is the single persistence layer behind every engine. Records are
// RLP encoded under keccak-derived keys; ordered iteration goes through
// explicit index lists so listings and supplier sets replay
// deterministically.
type Manager struct {
	db storage.Database
}

// NewManager wraps a key-value database in the protocol state schema.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func accountKey(addr crypto.Address) []byte {
	return ethcrypto.Keccak256([]byte("nftlend/state/account/"), []byte(addr.Prefix()), addr.Bytes())
}

func collectionKey(addr crypto.Address) []byte {
	return ethcrypto.Keccak256([]byte("nftlend/state/nft/collection/"), addr.Bytes())
}

func tokenOwnerKey(collection crypto.Address, tokenID uint64) []byte {
	return ethcrypto.Keccak256([]byte("nftlend/state/nft/owner/"), collection.Bytes(), beUint64(tokenID))
}

func approvalKey(collection, owner, operator crypto.Address) []byte {
	return ethcrypto.Keccak256([]byte("nftlend/state/nft/approval/"), collection.Bytes(), owner.Bytes(), operator.Bytes())
}

func priceKey(collection crypto.Address, tokenID uint64) []byte {
	return ethcrypto.Keccak256([]byte("nftlend/state/price/record/"), collection.Bytes(), beUint64(tokenID))
}

func poolKey() []byte {
	return ethcrypto.Keccak256([]byte("nftlend/state/lending/pool"))
}

func debtKey(addr crypto.Address) []byte {
	return ethcrypto.Keccak256([]byte("nftlend/state/lending/debt/"), addr.Bytes())
}

func supplyKey(addr crypto.Address) []byte {
	return ethcrypto.Keccak256([]byte("nftlend/state/lending/supply/"), addr.Bytes())
}

func profileKey(addr crypto.Address) []byte {
	return ethcrypto.Keccak256([]byte("nftlend/state/collateral/profile/"), addr.Bytes())
}

func listingKey(collection crypto.Address, tokenID uint64) []byte {
	return ethcrypto.Keccak256([]byte("nftlend/state/auction/listing/"), collection.Bytes(), beUint64(tokenID))
}

var (
	priceIndexKey   = ethcrypto.Keccak256([]byte("nftlend/state/price/index"))
	supplyIndexKey  = ethcrypto.Keccak256([]byte("nftlend/state/lending/suppliers"))
	profileIndexKey = ethcrypto.Keccak256([]byte("nftlend/state/collateral/index"))
	listingIndexKey = ethcrypto.Keccak256([]byte("nftlend/state/auction/index"))
)

func beUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	return m.db.Put(key, encoded)
}

// get decodes the stored value into out, reporting presence.
func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode: %w", err)
	}
	return true, nil
}

// storedAddress carries an address through RLP, which has no notion of the
// bech32 prefix. An unset address round-trips as empty raw bytes.
type storedAddress struct {
	Prefix string
	Raw    []byte
}

func toStoredAddress(addr crypto.Address) storedAddress {
	return storedAddress{Prefix: string(addr.Prefix()), Raw: addr.Bytes()}
}

func (s storedAddress) address() crypto.Address {
	if len(s.Raw) != crypto.AddressLength {
		return crypto.Address{}
	}
	return crypto.NewAddress(crypto.AddressPrefix(s.Prefix), s.Raw)
}

type storedItemRef struct {
	Collection storedAddress
	TokenID    uint64
}

// --- accounts ---

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount loads the account, returning a zeroed account when absent.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.get(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	account := &types.Account{}
	if ok {
		account.Nonce = stored.Nonce
		account.Balance = stored.Balance
	}
	account.EnsureDefaults()
	return account, nil
}

// PutAccount persists the account record.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		account = &types.Account{}
	}
	account.EnsureDefaults()
	return m.put(accountKey(addr), &storedAccount{Nonce: account.Nonce, Balance: account.Balance})
}

// --- NFT registry ---

type storedCollection struct {
	Address     storedAddress
	Symbol      string
	Name        string
	Variant     uint8
	NextTokenID uint64
	Minter      storedAddress
}

func (m *Manager) CollectionGet(addr crypto.Address) (*assets.Collection, bool, error) {
	var stored storedCollection
	ok, err := m.get(collectionKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &assets.Collection{
		Address:     stored.Address.address(),
		Symbol:      stored.Symbol,
		Name:        stored.Name,
		Variant:     assets.CollectionVariant(stored.Variant),
		NextTokenID: stored.NextTokenID,
		Minter:      stored.Minter.address(),
	}, true, nil
}

func (m *Manager) CollectionPut(collection *assets.Collection) error {
	return m.put(collectionKey(collection.Address), &storedCollection{
		Address:     toStoredAddress(collection.Address),
		Symbol:      collection.Symbol,
		Name:        collection.Name,
		Variant:     uint8(collection.Variant),
		NextTokenID: collection.NextTokenID,
		Minter:      toStoredAddress(collection.Minter),
	})
}

func (m *Manager) TokenOwner(collection crypto.Address, tokenID uint64) (crypto.Address, bool, error) {
	var stored storedAddress
	ok, err := m.get(tokenOwnerKey(collection, tokenID), &stored)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	return stored.address(), true, nil
}

func (m *Manager) TokenOwnerPut(collection crypto.Address, tokenID uint64, owner crypto.Address) error {
	stored := toStoredAddress(owner)
	return m.put(tokenOwnerKey(collection, tokenID), &stored)
}

func (m *Manager) ApprovalForAll(collection, owner, operator crypto.Address) (bool, error) {
	var approved bool
	ok, err := m.get(approvalKey(collection, owner, operator), &approved)
	if err != nil || !ok {
		return false, err
	}
	return approved, nil
}

func (m *Manager) ApprovalForAllPut(collection, owner, operator crypto.Address, approved bool) error {
	return m.put(approvalKey(collection, owner, operator), approved)
}

// --- price registry ---

type storedPriceRecord struct {
	Collection  storedAddress
	TokenID     uint64
	Price       *big.Int
	Pending     bool
	Known       bool
	Eligible    bool
	LastUpdated uint64
}

func (m *Manager) PriceGet(collection crypto.Address, tokenID uint64) (*pricing.PriceRecord, bool, error) {
	var stored storedPriceRecord
	ok, err := m.get(priceKey(collection, tokenID), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	record := &pricing.PriceRecord{
		Collection:  stored.Collection.address(),
		TokenID:     stored.TokenID,
		Price:       stored.Price,
		Pending:     stored.Pending,
		Known:       stored.Known,
		Eligible:    stored.Eligible,
		LastUpdated: int64(stored.LastUpdated),
	}
	record.EnsureDefaults()
	return record, true, nil
}

func (m *Manager) PricePut(record *pricing.PriceRecord) error {
	record.EnsureDefaults()
	if err := m.indexAddItem(priceIndexKey, record.Collection, record.TokenID); err != nil {
		return err
	}
	return m.put(priceKey(record.Collection, record.TokenID), &storedPriceRecord{
		Collection:  toStoredAddress(record.Collection),
		TokenID:     record.TokenID,
		Price:       record.Price,
		Pending:     record.Pending,
		Known:       record.Known,
		Eligible:    record.Eligible,
		LastUpdated: uint64(record.LastUpdated),
	})
}

func (m *Manager) PriceList() ([]*pricing.PriceRecord, error) {
	refs, err := m.itemIndex(priceIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]*pricing.PriceRecord, 0, len(refs))
	for _, ref := range refs {
		record, ok, err := m.PriceGet(ref.Collection.address(), ref.TokenID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, record)
		}
	}
	return out, nil
}

// --- lending pool ---

type storedPool struct {
	TotalLiquidity         *big.Int
	TotalPrincipalBorrowed *big.Int
}

func (m *Manager) PoolGet() (*lending.PoolLedger, error) {
	var stored storedPool
	ok, err := m.get(poolKey(), &stored)
	if err != nil {
		return nil, err
	}
	ledger := &lending.PoolLedger{}
	if ok {
		ledger.TotalLiquidity = stored.TotalLiquidity
		ledger.TotalPrincipalBorrowed = stored.TotalPrincipalBorrowed
	}
	ledger.EnsureDefaults()
	return ledger, nil
}

func (m *Manager) PoolPut(ledger *lending.PoolLedger) error {
	ledger.EnsureDefaults()
	return m.put(poolKey(), &storedPool{
		TotalLiquidity:         ledger.TotalLiquidity,
		TotalPrincipalBorrowed: ledger.TotalPrincipalBorrowed,
	})
}

type storedDebt struct {
	Borrower        storedAddress
	Principal       *big.Int
	AccruedInterest *big.Int
	PeriodStart     uint64
	LastAccrual     uint64
}

func (m *Manager) DebtGet(addr crypto.Address) (*lending.DebtPosition, bool, error) {
	var stored storedDebt
	ok, err := m.get(debtKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	position := &lending.DebtPosition{
		Borrower:        stored.Borrower.address(),
		Principal:       stored.Principal,
		AccruedInterest: stored.AccruedInterest,
		PeriodStart:     int64(stored.PeriodStart),
		LastAccrual:     int64(stored.LastAccrual),
	}
	position.EnsureDefaults()
	return position, true, nil
}

func (m *Manager) DebtPut(position *lending.DebtPosition) error {
	position.EnsureDefaults()
	return m.put(debtKey(position.Borrower), &storedDebt{
		Borrower:        toStoredAddress(position.Borrower),
		Principal:       position.Principal,
		AccruedInterest: position.AccruedInterest,
		PeriodStart:     uint64(position.PeriodStart),
		LastAccrual:     uint64(position.LastAccrual),
	})
}

func (m *Manager) DebtDelete(addr crypto.Address) error {
	return m.db.Delete(debtKey(addr))
}

type storedSupply struct {
	Lender    storedAddress
	Principal *big.Int
	Yield     *big.Int
}

func (m *Manager) SupplyGet(addr crypto.Address) (*lending.SupplyPosition, bool, error) {
	var stored storedSupply
	ok, err := m.get(supplyKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	position := &lending.SupplyPosition{
		Lender:    stored.Lender.address(),
		Principal: stored.Principal,
		Yield:     stored.Yield,
	}
	position.EnsureDefaults()
	return position, true, nil
}

func (m *Manager) SupplyPut(position *lending.SupplyPosition) error {
	position.EnsureDefaults()
	if err := m.indexAddAddress(supplyIndexKey, position.Lender); err != nil {
		return err
	}
	return m.put(supplyKey(position.Lender), &storedSupply{
		Lender:    toStoredAddress(position.Lender),
		Principal: position.Principal,
		Yield:     position.Yield,
	})
}

func (m *Manager) SupplyDelete(addr crypto.Address) error {
	if err := m.indexRemoveAddress(supplyIndexKey, addr); err != nil {
		return err
	}
	return m.db.Delete(supplyKey(addr))
}

func (m *Manager) SupplyList() ([]*lending.SupplyPosition, error) {
	addrs, err := m.addressIndex(supplyIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]*lending.SupplyPosition, 0, len(addrs))
	for _, addr := range addrs {
		position, ok, err := m.SupplyGet(addr)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, position)
		}
	}
	return out, nil
}

// --- collateral vault ---

type storedCollateralItem struct {
	Collection storedAddress
	TokenID    uint64
	PledgedAt  uint64
}

type storedProfile struct {
	Borrower        storedAddress
	Items           []storedCollateralItem
	BeingLiquidated bool
}

func (m *Manager) ProfileGet(addr crypto.Address) (*collateral.BorrowerProfile, bool, error) {
	var stored storedProfile
	ok, err := m.get(profileKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	profile := &collateral.BorrowerProfile{
		Borrower:        stored.Borrower.address(),
		Items:           make([]collateral.CollateralItem, len(stored.Items)),
		BeingLiquidated: stored.BeingLiquidated,
	}
	for i, item := range stored.Items {
		profile.Items[i] = collateral.CollateralItem{
			Collection: item.Collection.address(),
			TokenID:    item.TokenID,
			PledgedAt:  int64(item.PledgedAt),
		}
	}
	return profile, true, nil
}

func (m *Manager) ProfilePut(profile *collateral.BorrowerProfile) error {
	stored := &storedProfile{
		Borrower:        toStoredAddress(profile.Borrower),
		Items:           make([]storedCollateralItem, len(profile.Items)),
		BeingLiquidated: profile.BeingLiquidated,
	}
	for i, item := range profile.Items {
		stored.Items[i] = storedCollateralItem{
			Collection: toStoredAddress(item.Collection),
			TokenID:    item.TokenID,
			PledgedAt:  uint64(item.PledgedAt),
		}
	}
	if err := m.indexAddAddress(profileIndexKey, profile.Borrower); err != nil {
		return err
	}
	return m.put(profileKey(profile.Borrower), stored)
}

func (m *Manager) ProfileDelete(addr crypto.Address) error {
	if err := m.indexRemoveAddress(profileIndexKey, addr); err != nil {
		return err
	}
	return m.db.Delete(profileKey(addr))
}

func (m *Manager) ProfileList() ([]*collateral.BorrowerProfile, error) {
	addrs, err := m.addressIndex(profileIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]*collateral.BorrowerProfile, 0, len(addrs))
	for _, addr := range addrs {
		profile, ok, err := m.ProfileGet(addr)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, profile)
		}
	}
	return out, nil
}

// --- auction house ---

type storedListing struct {
	Collection    storedAddress
	TokenID       uint64
	Borrower      storedAddress
	BasePrice     *big.Int
	StartedAt     uint64
	Duration      uint64
	HighestBid    *big.Int
	HighestBidder storedAddress
	EndedNoWinner bool
}

func (m *Manager) ListingGet(collection crypto.Address, tokenID uint64) (*auction.Listing, bool, error) {
	var stored storedListing
	ok, err := m.get(listingKey(collection, tokenID), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	listing := &auction.Listing{
		Collection:    stored.Collection.address(),
		TokenID:       stored.TokenID,
		Borrower:      stored.Borrower.address(),
		BasePrice:     stored.BasePrice,
		StartedAt:     int64(stored.StartedAt),
		Duration:      int64(stored.Duration),
		HighestBid:    stored.HighestBid,
		HighestBidder: stored.HighestBidder.address(),
		EndedNoWinner: stored.EndedNoWinner,
	}
	listing.EnsureDefaults()
	return listing, true, nil
}

func (m *Manager) ListingPut(listing *auction.Listing) error {
	listing.EnsureDefaults()
	if err := m.indexAddItem(listingIndexKey, listing.Collection, listing.TokenID); err != nil {
		return err
	}
	return m.put(listingKey(listing.Collection, listing.TokenID), &storedListing{
		Collection:    toStoredAddress(listing.Collection),
		TokenID:       listing.TokenID,
		Borrower:      toStoredAddress(listing.Borrower),
		BasePrice:     listing.BasePrice,
		StartedAt:     uint64(listing.StartedAt),
		Duration:      uint64(listing.Duration),
		HighestBid:    listing.HighestBid,
		HighestBidder: toStoredAddress(listing.HighestBidder),
		EndedNoWinner: listing.EndedNoWinner,
	})
}

func (m *Manager) ListingDelete(collection crypto.Address, tokenID uint64) error {
	if err := m.indexRemoveItem(listingIndexKey, collection, tokenID); err != nil {
		return err
	}
	return m.db.Delete(listingKey(collection, tokenID))
}

func (m *Manager) ListingList() ([]*auction.Listing, error) {
	refs, err := m.itemIndex(listingIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]*auction.Listing, 0, len(refs))
	for _, ref := range refs {
		listing, ok, err := m.ListingGet(ref.Collection.address(), ref.TokenID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, listing)
		}
	}
	return out, nil
}

// --- index lists ---

func (m *Manager) addressIndex(key []byte) ([]crypto.Address, error) {
	var stored []storedAddress
	if _, err := m.get(key, &stored); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, len(stored))
	for i, entry := range stored {
		out[i] = entry.address()
	}
	return out, nil
}

func (m *Manager) indexAddAddress(key []byte, addr crypto.Address) error {
	var stored []storedAddress
	if _, err := m.get(key, &stored); err != nil {
		return err
	}
	for _, entry := range stored {
		if entry.address().Equal(addr) {
			return nil
		}
	}
	stored = append(stored, toStoredAddress(addr))
	return m.put(key, stored)
}

func (m *Manager) indexRemoveAddress(key []byte, addr crypto.Address) error {
	var stored []storedAddress
	if _, err := m.get(key, &stored); err != nil {
		return err
	}
	for i, entry := range stored {
		if entry.address().Equal(addr) {
			stored = append(stored[:i], stored[i+1:]...)
			return m.put(key, stored)
		}
	}
	return nil
}

func (m *Manager) itemIndex(key []byte) ([]storedItemRef, error) {
	var stored []storedItemRef
	if _, err := m.get(key, &stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (m *Manager) indexAddItem(key []byte, collection crypto.Address, tokenID uint64) error {
	stored, err := m.itemIndex(key)
	if err != nil {
		return err
	}
	for _, entry := range stored {
		if entry.TokenID == tokenID && entry.Collection.address().Equal(collection) {
			return nil
		}
	}
	stored = append(stored, storedItemRef{Collection: toStoredAddress(collection), TokenID: tokenID})
	return m.put(key, stored)
}

func (m *Manager) indexRemoveItem(key []byte, collection crypto.Address, tokenID uint64) error {
	stored, err := m.itemIndex(key)
	if err != nil {
		return err
	}
	for i, entry := range stored {
		if entry.TokenID == tokenID && entry.Collection.address().Equal(collection) {
			stored = append(stored[:i], stored[i+1:]...)
			return m.put(key, stored)
		}
	}
	return nil
}
