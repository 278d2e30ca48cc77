package domain

import (
	"fmt"
	"strings"
	"time"
)

// OfferPriority is the urgency attached to an outbound offer.
type OfferPriority string

const (
	OfferPriorityHigh   OfferPriority = "HIGH"
	OfferPriorityNormal OfferPriority = "NORMAL"
)

func (p OfferPriority) String() string { return string(p) }

func (p OfferPriority) IsValid() bool {
	return p == OfferPriorityHigh || p == OfferPriorityNormal
}

func ParseOfferPriorityFromString(s string) (OfferPriority, error) {
	p := OfferPriority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid offer priority %q", ErrValidation, s)
	}
	return p, nil
}

const (
	baseResponseWindow = 4 * time.Hour
	minResponseWindow  = time.Hour
)

// PriorityForBroadcast escalates urgency on re-broadcasts: the first round
// is routine, every later round means a professional already backed out.
func PriorityForBroadcast(broadcastCount int) OfferPriority {
	if broadcastCount > 1 {
		return OfferPriorityHigh
	}
	return OfferPriorityNormal
}

// ResponseWindowForBroadcast halves the offer response window on each
// re-broadcast, bounded below at one hour.
func ResponseWindowForBroadcast(broadcastCount int) time.Duration {
	if broadcastCount < 1 {
		broadcastCount = 1
	}

	window := baseResponseWindow
	for i := 1; i < broadcastCount; i++ {
		window /= 2
		if window <= minResponseWindow {
			return minResponseWindow
		}
	}
	return window
}
