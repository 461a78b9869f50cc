package auction

import (
	"math/big"
	"strconv"

	"nftlend/core/types"
	"nftlend/crypto"
)

const (
	EventTypeNFTListed                = "NFTListed"
	EventTypeNFTDelisted              = "NFTDelisted"
	EventTypeNewBid                   = "NewBid"
	EventTypeAuctionWon               = "AuctionWon"
	EventTypeAuctionEndedWithNoWinner = "AuctionEndedWithNoWinner"
	EventTypeNFTPurchased             = "NFTPurchased"
)

type auctionEvent struct {
	evt *types.Event
}

func (e auctionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e auctionEvent) Event() *types.Event { return e.evt }

func itemAttributes(collection crypto.Address, tokenID uint64, timestamp int64) map[string]string {
	return map[string]string{
		"collection": collection.String(),
		"tokenId":    strconv.FormatUint(tokenID, 10),
		"timestamp":  strconv.FormatInt(timestamp, 10),
	}
}

func newListedEvent(listing *Listing, timestamp int64) *types.Event {
	attrs := itemAttributes(listing.Collection, listing.TokenID, timestamp)
	attrs["borrower"] = listing.Borrower.String()
	attrs["basePrice"] = listing.BasePrice.String()
	attrs["endsAt"] = strconv.FormatInt(listing.EndsAt(), 10)
	return &types.Event{Type: EventTypeNFTListed, Attributes: attrs}
}

func newDelistedEvent(collection crypto.Address, tokenID uint64, timestamp int64) *types.Event {
	return &types.Event{Type: EventTypeNFTDelisted, Attributes: itemAttributes(collection, tokenID, timestamp)}
}

func newBidEvent(listing *Listing, bidder crypto.Address, amount *big.Int, timestamp int64) *types.Event {
	attrs := itemAttributes(listing.Collection, listing.TokenID, timestamp)
	attrs["bidder"] = bidder.String()
	attrs["amount"] = amount.String()
	return &types.Event{Type: EventTypeNewBid, Attributes: attrs}
}

func newWonEvent(listing *Listing, timestamp int64) *types.Event {
	attrs := itemAttributes(listing.Collection, listing.TokenID, timestamp)
	attrs["winner"] = listing.HighestBidder.String()
	attrs["amount"] = listing.HighestBid.String()
	return &types.Event{Type: EventTypeAuctionWon, Attributes: attrs}
}

func newNoWinnerEvent(listing *Listing, timestamp int64) *types.Event {
	attrs := itemAttributes(listing.Collection, listing.TokenID, timestamp)
	attrs["basePrice"] = listing.BasePrice.String()
	return &types.Event{Type: EventTypeAuctionEndedWithNoWinner, Attributes: attrs}
}

func newPurchasedEvent(listing *Listing, buyer crypto.Address, amount *big.Int, timestamp int64) *types.Event {
	attrs := itemAttributes(listing.Collection, listing.TokenID, timestamp)
	attrs["buyer"] = buyer.String()
	attrs["amount"] = amount.String()
	return &types.Event{Type: EventTypeNFTPurchased, Attributes: attrs}
}
