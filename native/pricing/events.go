package pricing

import (
	"strconv"

	"nftlend/core/types"
	"nftlend/crypto"
)

const (
	// EventTypeNftAdded signals a new item entering the registry in the
	// pending state.
	EventTypeNftAdded = "NftAdded"
	// EventTypeNftPriceUpdated signals a feed push that changed an item's
	// recorded price or eligibility.
	EventTypeNftPriceUpdated = "NftPriceUpdated"
	// EventTypeRequestPrice asks the configured price feed to value an
	// item. The feed observes it asynchronously and answers via PushPrice.
	EventTypeRequestPrice = "RequestPrice"
)

type pricingEvent struct {
	evt *types.Event
}

func (e pricingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e pricingEvent) Event() *types.Event { return e.evt }

func newNftAddedEvent(record *PriceRecord) *types.Event {
	attrs := itemAttributes(record.Collection, record.TokenID)
	attrs["price"] = "0"
	attrs["pending"] = strconv.FormatBool(record.Pending)
	attrs["timestamp"] = strconv.FormatInt(record.LastUpdated, 10)
	return &types.Event{Type: EventTypeNftAdded, Attributes: attrs}
}

func newNftPriceUpdatedEvent(record *PriceRecord) *types.Event {
	attrs := itemAttributes(record.Collection, record.TokenID)
	attrs["price"] = record.Price.String()
	attrs["eligible"] = strconv.FormatBool(record.Eligible)
	attrs["timestamp"] = strconv.FormatInt(record.LastUpdated, 10)
	return &types.Event{Type: EventTypeNftPriceUpdated, Attributes: attrs}
}

func newRequestPriceEvent(collection crypto.Address, tokenID uint64) *types.Event {
	return &types.Event{Type: EventTypeRequestPrice, Attributes: itemAttributes(collection, tokenID)}
}

func itemAttributes(collection crypto.Address, tokenID uint64) map[string]string {
	return map[string]string{
		"collection": collection.String(),
		"tokenId":    strconv.FormatUint(tokenID, 10),
	}
}
