package email

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Domenick1991/bookingcore/internal/domain"
	"github.com/Domenick1991/bookingcore/internal/kafka"
	"github.com/rs/zerolog"
	"golang.org/x/text/currency"
)

// Message is a rendered customer email. Recipient lookup and delivery belong
// to the mail provider; To carries the owner id it resolves.
type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender struct {
	logger zerolog.Logger
	sent   func(Message)
}

func NewSender(logger zerolog.Logger) *Sender {
	return &Sender{logger: logger}
}

// Compose renders the email for a notification event. Events that need no
// email return false.
func Compose(event kafka.BookingEvent) (Message, bool) {
	switch event.Type {
	case domain.EventBookingConfirmed:
		return Message{
			To:      event.OwnerID,
			Subject: fmt.Sprintf("Booking %s confirmed", event.Reference),
			Body: fmt.Sprintf("Your %s booking %s is confirmed. Amount paid: %s.",
				event.Kind, event.Reference, money(event.PaidAmount, event.Currency)),
		}, true
	case domain.EventBookingCancelled:
		var b strings.Builder
		fmt.Fprintf(&b, "Your %s booking %s was cancelled.", event.Kind, event.Reference)
		if event.CancellationFee > 0 {
			fmt.Fprintf(&b, " Cancellation fee: %s.", money(event.CancellationFee, event.Currency))
		}
		if event.RefundAmount > 0 {
			fmt.Fprintf(&b, " Refund: %s.", money(event.RefundAmount, event.Currency))
		}
		return Message{
			To:      event.OwnerID,
			Subject: fmt.Sprintf("Booking %s cancelled", event.Reference),
			Body:    b.String(),
		}, true
	default:
		return Message{}, false
	}
}

func (s *Sender) Send(ctx context.Context, event kafka.BookingEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, ok := Compose(event)
	if !ok {
		s.logger.Debug().Str("type", event.Type).Str("booking_id", event.BookingID).Msg("no email for event")
		return nil
	}

	s.logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Str("booking_id", event.BookingID).Msg("email sent")
	if s.sent != nil {
		s.sent(msg)
	}
	return nil
}

func money(amount int64, code string) string {
	return formatMinor(amount, code) + " " + code
}

// formatMinor renders minor units with the currency's ISO 4217 number of
// decimals; unknown codes get two.
func formatMinor(amount int64, code string) string {
	scale := 2
	if unit, err := currency.ParseISO(code); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}

	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	if scale == 0 {
		return sign + strconv.FormatInt(amount, 10)
	}
	unit := int64(math.Pow10(scale))
	return fmt.Sprintf("%s%d.%0*d", sign, amount/unit, scale, amount%unit)
}
