package lending

import (
	"math/big"
	"strconv"

	"nftlend/core/types"
	"nftlend/crypto"
)

const (
	EventTypeSupplied   = "Supplied"
	EventTypeWithdrawn  = "Withdrawn"
	EventTypeBorrowed   = "Borrowed"
	EventTypeRepaid     = "Repaid"
	EventTypeLiquidated = "Liquidated"
)

type lendingEvent struct {
	evt *types.Event
}

func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lendingEvent) Event() *types.Event { return e.evt }

func newAmountEvent(eventType string, account crypto.Address, amount *big.Int, timestamp int64) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"account":   account.String(),
		"amount":    amount.String(),
		"timestamp": strconv.FormatInt(timestamp, 10),
	}}
}

// newLiquidatedEvent records a forced repayment funded by a collateral
// sale. It is distinct from Repaid so auditors can separate voluntary
// repayments from liquidations.
func newLiquidatedEvent(borrower, collection crypto.Address, tokenID uint64, proceeds, repaid *big.Int, timestamp int64) *types.Event {
	return &types.Event{Type: EventTypeLiquidated, Attributes: map[string]string{
		"borrower":   borrower.String(),
		"collection": collection.String(),
		"tokenId":    strconv.FormatUint(tokenID, 10),
		"proceeds":   proceeds.String(),
		"repaid":     repaid.String(),
		"timestamp":  strconv.FormatInt(timestamp, 10),
	}}
}
