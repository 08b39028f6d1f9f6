package market

import (
	"encoding/hex"
	"strconv"

	"tradepost/events"
)

const (
	EventTypeListingCreated  = "market.listing_created"
	EventTypeListingRelisted = "market.listing_relisted"
	EventTypeListingExpired  = "market.listing_expired"
	EventTypeStatusUpdated   = "market.status_updated"
	EventTypeBuyerSet        = "market.buyer_set"
	EventTypeEscrowLocked    = "market.escrow_locked"
	EventTypeFundsReleased   = "market.funds_released"
	EventTypeDisputeResolved = "market.dispute_resolved"
	EventTypeFeeSet          = "market.fee_set"
	EventTypeFeeWithdrawn    = "market.fee_withdrawn"
)

// NewListingCreatedEvent returns the canonical payload for a newly created
// listing.
func NewListingCreatedEvent(l *Listing) *events.Record {
	return newListingEvent(EventTypeListingCreated, l, nil)
}

// NewListingRelistedEvent returns the payload emitted when an expired listing
// re-enters the market with a fresh expiry window.
func NewListingRelistedEvent(l *Listing) *events.Record {
	return newListingEvent(EventTypeListingRelisted, l, nil)
}

// NewListingExpiredEvent returns the payload emitted when a lapsed listing is
// marked expired by a mutating call.
func NewListingExpiredEvent(l *Listing) *events.Record {
	return newListingEvent(EventTypeListingExpired, l, nil)
}

// NewStatusUpdatedEvent returns the payload emitted on any stored status
// transition.
func NewStatusUpdatedEvent(l *Listing) *events.Record {
	return newListingEvent(EventTypeStatusUpdated, l, nil)
}

// NewBuyerSetEvent returns the payload emitted when a purchase records the
// buyer on a listing.
func NewBuyerSetEvent(l *Listing) *events.Record {
	return newListingEvent(EventTypeBuyerSet, l, nil)
}

// NewEscrowLockedEvent returns the payload emitted when buyer funds enter
// custody.
func NewEscrowLockedEvent(l *Listing) *events.Record {
	return newListingEvent(EventTypeEscrowLocked, l, nil)
}

// NewFundsReleasedEvent returns the payload emitted when escrowed funds leave
// custody toward the supplied recipient.
func NewFundsReleasedEvent(l *Listing, recipient [20]byte) *events.Record {
	return newListingEvent(EventTypeFundsReleased, l, map[string]string{
		"recipient": hex.EncodeToString(recipient[:]),
	})
}

// NewDisputeResolvedEvent returns the payload emitted when a dispute handler
// settles a contested escrow.
func NewDisputeResolvedEvent(l *Listing, refundBuyer bool) *events.Record {
	return newListingEvent(EventTypeDisputeResolved, l, map[string]string{
		"refundBuyer": strconv.FormatBool(refundBuyer),
	})
}

// NewFeeSetEvent returns the payload emitted when the fee admin changes the
// platform rate.
func NewFeeSetEvent(bps uint32) *events.Record {
	return &events.Record{Type: EventTypeFeeSet, Attributes: map[string]string{
		"feeBps": strconv.FormatUint(uint64(bps), 10),
	}}
}

// NewFeeWithdrawnEvent returns the payload emitted when accrued fees are paid
// out.
func NewFeeWithdrawnEvent(recipient [20]byte, amount string) *events.Record {
	return &events.Record{Type: EventTypeFeeWithdrawn, Attributes: map[string]string{
		"recipient": hex.EncodeToString(recipient[:]),
		"amount":    amount,
	}}
}

func newListingEvent(eventType string, l *Listing, extra map[string]string) *events.Record {
	attrs := make(map[string]string)
	if l != nil {
		attrs["id"] = strconv.FormatUint(l.ID, 10)
		attrs["seller"] = hex.EncodeToString(l.Seller[:])
		attrs["price"] = cloneAmount(l.Price).String()
		attrs["fee"] = cloneAmount(l.Fee).String()
		attrs["status"] = l.Status.String()
		attrs["expiresAt"] = strconv.FormatInt(l.ExpiresAt, 10)
		if l.HasBuyer() {
			attrs["buyer"] = hex.EncodeToString(l.Buyer[:])
		}
		if l.Escrow.Armed() {
			attrs["escrowAmount"] = cloneAmount(l.Escrow.Amount).String()
			attrs["escrowFee"] = cloneAmount(l.Escrow.Fee).String()
			attrs["lockedTime"] = strconv.FormatInt(l.Escrow.LockedTime, 10)
		}
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &events.Record{Type: eventType, Attributes: attrs}
}
