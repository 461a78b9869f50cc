package gateway

import "errors"

var (
	errInvalidAmount   = errors.New("gateway: amount must be a base-10 integer string")
	errInvalidTokenID  = errors.New("gateway: tokenId must be a non-negative integer")
	errListingNotFound = errors.New("gateway: listing not found")
	errPriceNotFound   = errors.New("gateway: price record not found")
)
