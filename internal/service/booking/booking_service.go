package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
	"github.com/Domenick1991/bookingcore/internal/metrics"
	"github.com/Domenick1991/bookingcore/internal/payment"
	"github.com/Domenick1991/bookingcore/internal/policy"
	"github.com/Domenick1991/bookingcore/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type BookingUseCase interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error)
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	GetByReference(ctx context.Context, reference string) (*domain.Booking, error)
	ListOwnerBookings(ctx context.Context, ownerID string, filter repository.OwnerFilter) ([]*domain.Booking, error)
	ConfirmBooking(ctx context.Context, id string, input ConfirmInput) (*domain.Booking, error)
	CheckoutBooking(ctx context.Context, id string) (*domain.Booking, error)
	CancelBooking(ctx context.Context, id, reason string) (*CancellationResult, error)
	CompleteBooking(ctx context.Context, id string) (*domain.Booking, error)
	RefundBooking(ctx context.Context, id string, amount int64) (*RefundResult, error)
	RetryRefund(ctx context.Context, id string) (*RefundResult, error)
	ExpireBooking(ctx context.Context, id string) (bool, error)
	ExpirePendingBookings(ctx context.Context, limit int) (SweepResult, error)
	PendingRefunds(ctx context.Context, limit int) ([]string, error)
}

// Notifier tells the customer about confirmations and cancellations.
// Failures are logged and never undo a transition.
type Notifier interface {
	NotifyConfirmed(ctx context.Context, booking *domain.Booking) error
	NotifyCancelled(ctx context.Context, booking *domain.Booking, refundAmount int64) error
}

// EventPublisher receives every stored lifecycle transition.
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, eventType string, booking *domain.Booking, refundAmount int64) error
}

type BookingService struct {
	bookings repository.BookingRepository
	payments payment.Gateway
	notifier Notifier
	events   EventPublisher
	logger   zerolog.Logger
	validate *validator.Validate

	feeFunc      domain.FeeFunc
	now          func() time.Time
	newID        func() string
	newReference func() (string, error)

	holdTTL           time.Duration
	paymentTimeout    time.Duration
	notifyTimeout     time.Duration
	referenceAttempts int
}

type CreateBookingInput struct {
	OwnerID  string             `json:"owner_id" validate:"required,max=128"`
	Kind     domain.Kind        `json:"kind" validate:"required,oneof=flight hotel car insurance package"`
	Currency string             `json:"currency" validate:"required,len=3,uppercase"`
	Total    int64              `json:"total" validate:"gt=0"`
	Details  domain.TypeDetails `json:"type_details"`
}

// ConfirmInput is what the payment webhook reports for an already captured payment.
type ConfirmInput struct {
	PaymentReference string `json:"payment_reference" validate:"required"`
	AmountCaptured   int64  `json:"amount_captured" validate:"gt=0"`
}

type CancellationResult struct {
	Booking      *domain.Booking `json:"booking"`
	Fee          int64           `json:"fee"`
	RefundAmount int64           `json:"refund_amount"`
	Refunded     int64           `json:"refunded"`
}

type RefundResult struct {
	Booking         *domain.Booking `json:"booking"`
	Applied         int64           `json:"applied"`
	RefundReference string          `json:"refund_reference,omitempty"`
}

type SweepResult struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}

type BookingServiceOption func(*BookingService)

func WithNotifier(n Notifier) BookingServiceOption {
	return func(s *BookingService) {
		s.notifier = n
	}
}

func WithEventPublisher(p EventPublisher) BookingServiceOption {
	return func(s *BookingService) {
		s.events = p
	}
}

func WithLogger(logger zerolog.Logger) BookingServiceOption {
	return func(s *BookingService) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) {
		s.now = now
	}
}

func WithPaymentTimeout(d time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		s.paymentTimeout = d
	}
}

func WithNotifyTimeout(d time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		s.notifyTimeout = d
	}
}

func WithReferenceAttempts(n int) BookingServiceOption {
	return func(s *BookingService) {
		s.referenceAttempts = n
	}
}

func WithReferenceGenerator(gen func() (string, error)) BookingServiceOption {
	return func(s *BookingService) {
		s.newReference = gen
	}
}

func WithIDGenerator(gen func() string) BookingServiceOption {
	return func(s *BookingService) {
		s.newID = gen
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	payments payment.Gateway,
	holdTTL time.Duration,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		bookings:          bookings,
		payments:          payments,
		logger:            zerolog.Nop(),
		validate:          validator.New(),
		feeFunc:           policy.EvaluateFee,
		now:               time.Now,
		newID:             uuid.NewString,
		newReference:      domain.NewReference,
		holdTTL:           holdTTL,
		paymentTimeout:    10 * time.Second,
		notifyTimeout:     3 * time.Second,
		referenceAttempts: 5,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error) {
	if err := s.validate.StructCtx(ctx, input); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	for attempt := 1; attempt <= s.referenceAttempts; attempt++ {
		reference, err := s.newReference()
		if err != nil {
			return nil, fmt.Errorf("generate booking reference: %w", err)
		}
		booking, err := domain.NewBooking(domain.NewBookingParams{
			ID:        s.newID(),
			Reference: reference,
			OwnerID:   input.OwnerID,
			Kind:      input.Kind,
			Details:   input.Details,
			Currency:  input.Currency,
			Total:     input.Total,
			CreatedAt: s.now(),
			HoldTTL:   s.holdTTL,
		})
		if err != nil {
			return nil, err
		}

		err = s.bookings.Create(ctx, booking)
		if errors.Is(err, domain.ErrReferenceConflict) {
			s.logger.Debug().Str("reference", reference).Int("attempt", attempt).Msg("booking reference collision, regenerating")
			continue
		}
		s.observe("create", err)
		if err != nil {
			return nil, err
		}

		s.logger.Info().Str("booking_id", booking.ID).Str("reference", booking.Reference).
			Str("kind", string(booking.Kind)).Msg("booking created")
		s.publish(ctx, domain.EventBookingCreated, booking, 0)
		return booking, nil
	}
	s.observe("create", domain.ErrUnavailable)
	return nil, fmt.Errorf("%w: no unique booking reference after %d attempts", domain.ErrUnavailable, s.referenceAttempts)
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	return s.bookings.FindByID(ctx, id)
}

func (s *BookingService) GetByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	if !domain.ValidReference(reference) {
		return nil, domain.ErrNotFound
	}
	return s.bookings.FindByReference(ctx, reference)
}

func (s *BookingService) ListOwnerBookings(ctx context.Context, ownerID string, filter repository.OwnerFilter) ([]*domain.Booking, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, filter.Status)
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown kind %q", domain.ErrValidation, filter.Kind)
	}
	return s.bookings.FindByOwner(ctx, ownerID, filter)
}

// ConfirmBooking records a payment captured elsewhere. Repeated webhook
// deliveries for a confirmed booking succeed without side effects.
func (s *BookingService) ConfirmBooking(ctx context.Context, id string, input ConfirmInput) (*domain.Booking, error) {
	if err := s.validate.StructCtx(ctx, input); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var changed bool
	booking, err := s.bookings.Mutate(ctx, id, func(b *domain.Booking) error {
		var err error
		changed, err = b.Confirm(s.now(), domain.Capture{ProviderReference: input.PaymentReference, Amount: input.AmountCaptured})
		return err
	})
	s.observe("confirm", err)
	if err != nil {
		return nil, err
	}

	if changed {
		s.afterConfirm(ctx, booking)
	}
	return booking, nil
}

// CheckoutBooking captures the total through the gateway and then confirms.
// The booking lock is not held during the capture call.
func (s *BookingService) CheckoutBooking(ctx context.Context, id string) (*domain.Booking, error) {
	current, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.BookingStatusConfirmed {
		return current, nil
	}
	if err := current.CheckConfirmable(); err != nil {
		s.observe("checkout", err)
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	paymentRef, err := s.payments.Capture(pctx, current.ID, current.Pricing.Total, current.Pricing.Currency)
	cancel()
	if err != nil {
		err = paymentError("capture", current.ID, err)
		s.observe("checkout", err)
		return nil, err
	}

	var changed bool
	booking, err := s.bookings.Mutate(ctx, id, func(b *domain.Booking) error {
		var err error
		changed, err = b.Confirm(s.now(), domain.Capture{ProviderReference: paymentRef, Amount: current.Pricing.Total})
		return err
	})
	s.observe("checkout", err)
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		// the booking expired or was cancelled while the capture was in flight
		if s.captureIsOrphan(ctx, id, paymentRef) {
			s.reverseCapture(ctx, current, paymentRef)
		}
		return nil, err
	case err != nil:
		s.logger.Error().Err(err).Str("booking_id", id).Str("payment_reference", paymentRef).
			Msg("payment captured but confirmation was not stored")
		return nil, err
	case !changed:
		// someone else confirmed first; the provider may have handed back that same payment
		if booking.Ledger == nil || booking.Ledger.ProviderReference != paymentRef {
			s.reverseCapture(ctx, current, paymentRef)
		}
		return booking, nil
	}

	s.afterConfirm(ctx, booking)
	return booking, nil
}

// CancelBooking cancels the booking and then refunds what the fee policy leaves
// owed. When the refund call fails the cancellation stands and the error wraps
// ErrPaymentServiceUnavailable next to a non-nil result.
func (s *BookingService) CancelBooking(ctx context.Context, id, reason string) (*CancellationResult, error) {
	var fee int64
	booking, err := s.bookings.Mutate(ctx, id, func(b *domain.Booking) error {
		var err error
		fee, err = b.Cancel(reason, s.now(), s.feeFunc)
		return err
	})
	s.observe("cancel", err)
	if err != nil {
		return nil, err
	}

	result := &CancellationResult{Booking: booking, Fee: fee, RefundAmount: booking.RefundDue()}
	s.logger.Info().Str("booking_id", id).Int64("fee", fee).Int64("refund_due", result.RefundAmount).Msg("booking cancelled")

	var refundErr error
	if result.RefundAmount > 0 {
		refund, err := s.refund(ctx, booking, result.RefundAmount, payment.RefundKey(booking.ID, result.RefundAmount))
		if err != nil {
			refundErr = err
			s.logger.Warn().Err(err).Str("booking_id", id).Msg("refund deferred")
		} else {
			result.Booking = refund.Booking
			result.Refunded = refund.Applied
		}
	}

	s.notify(ctx, "cancelled", func(nctx context.Context) error {
		return s.notifier.NotifyCancelled(nctx, result.Booking, result.RefundAmount)
	})
	s.publish(ctx, domain.EventBookingCancelled, result.Booking, result.RefundAmount)
	return result, refundErr
}

func (s *BookingService) CompleteBooking(ctx context.Context, id string) (*domain.Booking, error) {
	booking, err := s.bookings.Mutate(ctx, id, func(b *domain.Booking) error {
		return b.Complete(s.now())
	})
	s.observe("complete", err)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.EventBookingCompleted, booking, 0)
	return booking, nil
}

// RefundBooking refunds up to amount of the captured payment.
func (s *BookingService) RefundBooking(ctx context.Context, id string, amount int64) (*RefundResult, error) {
	current, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := current.CheckRefundable(amount); err != nil {
		return nil, err
	}
	if remaining := current.Refundable(); amount > remaining {
		amount = remaining
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: nothing left to refund", domain.ErrValidation)
	}
	return s.refund(ctx, current, amount, payment.RequestedRefundKey(current.ID, current.Pricing.RefundedAmount, amount))
}

// RetryRefund re-attempts only the payment step of a cancellation.
func (s *BookingService) RetryRefund(ctx context.Context, id string) (*RefundResult, error) {
	current, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	due := current.RefundDue()
	if due == 0 {
		return &RefundResult{Booking: current}, nil
	}
	return s.refund(ctx, current, due, payment.RefundKey(current.ID, due))
}

// ExpireBooking reports false when the booking already left pending.
func (s *BookingService) ExpireBooking(ctx context.Context, id string) (bool, error) {
	booking, err := s.bookings.Mutate(ctx, id, func(b *domain.Booking) error {
		return b.MarkExpired(s.now())
	})
	if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
		s.observe("expire", err)
		return false, nil
	}
	s.observe("expire", err)
	if err != nil {
		return false, err
	}
	s.publish(ctx, domain.EventBookingExpired, booking, 0)
	return true, nil
}

// ExpirePendingBookings expires one batch of overdue bookings. Each booking is
// its own atomic unit, so a cancelled sweep leaves nothing half-done.
func (s *BookingService) ExpirePendingBookings(ctx context.Context, limit int) (SweepResult, error) {
	var res SweepResult
	ids, err := s.bookings.ListExpired(ctx, s.now(), limit)
	if err != nil {
		return res, err
	}
	res.Scanned = len(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		expired, err := s.ExpireBooking(ctx, id)
		switch {
		case err != nil:
			res.Failed++
			s.logger.Error().Err(err).Str("booking_id", id).Msg("expire booking")
		case expired:
			res.Expired++
		default:
			res.Skipped++
		}
	}
	return res, nil
}

func (s *BookingService) PendingRefunds(ctx context.Context, limit int) ([]string, error) {
	return s.bookings.ListAwaitingRefund(ctx, limit)
}

// refund moves money first and records it second, each step under its own
// short critical section. The idempotency key makes a repeated call after a
// timeout safe.
func (s *BookingService) refund(ctx context.Context, booking *domain.Booking, amount int64, key string) (*RefundResult, error) {
	if err := booking.CheckRefundable(amount); err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	refundRef, err := s.payments.Refund(pctx, booking.Ledger.ProviderReference, amount, key)
	cancel()
	if err != nil {
		metrics.IncRefund("failed")
		return nil, paymentError("refund", booking.ID, err)
	}

	var applied int64
	updated, err := s.bookings.Mutate(ctx, booking.ID, func(b *domain.Booking) error {
		var err error
		applied, err = b.ApplyRefund(amount, refundRef, s.now())
		return err
	})
	s.observe("refund", err)
	if err != nil {
		metrics.IncRefund("unrecorded")
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Str("refund_reference", refundRef).
			Int64("amount", amount).Msg("refund executed but not recorded")
		return nil, err
	}

	metrics.IncRefund("applied")
	metrics.AddRefunded(updated.Pricing.Currency, applied)
	s.logger.Info().Str("booking_id", booking.ID).Int64("amount", applied).
		Str("payment_status", string(updated.Pricing.PaymentStatus)).Msg("refund applied")
	if updated.Status == domain.BookingStatusRefunded && applied > 0 {
		s.publish(ctx, domain.EventBookingRefunded, updated, applied)
	}
	return &RefundResult{Booking: updated, Applied: applied, RefundReference: refundRef}, nil
}

// captureIsOrphan reports whether paymentRef is absent from the stored ledger.
// When the booking cannot be read the capture is kept and left for reconciliation.
func (s *BookingService) captureIsOrphan(ctx context.Context, id, paymentRef string) bool {
	stored, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", id).Str("payment_reference", paymentRef).
			Msg("cannot check captured payment against ledger")
		return false
	}
	return stored.Ledger == nil || stored.Ledger.ProviderReference != paymentRef
}

func (s *BookingService) reverseCapture(ctx context.Context, booking *domain.Booking, paymentRef string) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.paymentTimeout)
	defer cancel()

	amount := booking.Pricing.Total
	if _, err := s.payments.Refund(pctx, paymentRef, amount, paymentRef+":reversal"); err != nil {
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Str("payment_reference", paymentRef).
			Msg("capture reversal failed")
		return
	}
	s.logger.Warn().Str("booking_id", booking.ID).Str("payment_reference", paymentRef).Msg("capture reversed")
}

func (s *BookingService) afterConfirm(ctx context.Context, booking *domain.Booking) {
	s.logger.Info().Str("booking_id", booking.ID).Str("reference", booking.Reference).Msg("booking confirmed")
	s.notify(ctx, "confirmed", func(nctx context.Context) error {
		return s.notifier.NotifyConfirmed(nctx, booking)
	})
	s.publish(ctx, domain.EventBookingConfirmed, booking, 0)
}

func (s *BookingService) notify(ctx context.Context, kind string, send func(context.Context) error) {
	if s.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := send(nctx); err != nil {
		s.logger.Warn().Err(err).Str("notification", kind).Msg("failed to send notification")
	}
}

func (s *BookingService) publish(ctx context.Context, eventType string, booking *domain.Booking, refundAmount int64) {
	if s.events == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := s.events.PublishBookingEvent(pctx, eventType, booking, refundAmount); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("booking_id", booking.ID).Msg("failed to publish booking event")
	}
}

func (s *BookingService) observe(op string, err error) {
	metrics.IncTransition(op, outcome(err))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrAlreadyFinal):
		return "already_final"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrPaymentServiceUnavailable), errors.Is(err, domain.ErrPaymentDeclined):
		return "payment"
	case errors.Is(err, domain.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func paymentError(op, bookingID string, err error) error {
	if errors.Is(err, payment.ErrDeclined) {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrPaymentDeclined, op, bookingID, err)
	}
	return fmt.Errorf("%w: %s %s: %v", domain.ErrPaymentServiceUnavailable, op, bookingID, err)
}

var _ BookingUseCase = (*BookingService)(nil)
