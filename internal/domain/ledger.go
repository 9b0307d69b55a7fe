package domain

import "time"

type LedgerStatus string

const (
	LedgerAuthorized      LedgerStatus = "authorized"
	LedgerCaptured        LedgerStatus = "captured"
	LedgerRefundedPartial LedgerStatus = "refunded_partial"
	LedgerRefundedFull    LedgerStatus = "refunded_full"
	LedgerFailed          LedgerStatus = "failed"
)

// LedgerEntry tracks money captured and refunded for one booking.
// It is created on capture, updated on each refund and never deleted.
type LedgerEntry struct {
	BookingID         string       `json:"booking_id"`
	ProviderReference string       `json:"provider_reference"`
	Currency          string       `json:"currency"`
	AmountCaptured    int64        `json:"amount_captured"`
	AmountRefunded    int64        `json:"amount_refunded"`
	Status            LedgerStatus `json:"status"`
	RefundReferences  []string     `json:"refund_references,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Capture is the result of a successful payment capture.
type Capture struct {
	ProviderReference string
	Amount            int64
}

func (l *LedgerEntry) hasRefund(ref string) bool {
	if ref == "" {
		return false
	}
	for _, r := range l.RefundReferences {
		if r == ref {
			return true
		}
	}
	return false
}

func (l *LedgerEntry) recordRefund(amount int64, ref string, now time.Time) {
	l.AmountRefunded += amount
	if ref != "" {
		l.RefundReferences = append(l.RefundReferences, ref)
	}
	if l.AmountRefunded >= l.AmountCaptured {
		l.Status = LedgerRefundedFull
	} else {
		l.Status = LedgerRefundedPartial
	}
	l.UpdatedAt = now
}

func (l *LedgerEntry) clone() *LedgerEntry {
	if l == nil {
		return nil
	}
	out := *l
	out.RefundReferences = append([]string(nil), l.RefundReferences...)
	return &out
}
