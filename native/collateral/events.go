package collateral

import (
	"strconv"

	"nftlend/core/types"
	"nftlend/crypto"
)

const (
	EventTypeCollateralAdded    = "CollateralAdded"
	EventTypeCollateralRedeemed = "CollateralRedeemed"
)

type collateralEvent struct {
	evt *types.Event
}

func (e collateralEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e collateralEvent) Event() *types.Event { return e.evt }

func newItemEvent(eventType string, account, collection crypto.Address, tokenID uint64, timestamp int64) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"account":    account.String(),
		"collection": collection.String(),
		"tokenId":    strconv.FormatUint(tokenID, 10),
		"timestamp":  strconv.FormatInt(timestamp, 10),
	}}
}
