package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
	"github.com/Domenick1991/bookingcore/internal/repository"
	"github.com/Domenick1991/bookingcore/internal/service/booking"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	// UserHeader carries the authenticated caller. Authentication itself
	// happens upstream of this service.
	UserHeader = "X-User-ID"
	// WebhookSecretHeader carries the shared secret of payment callbacks.
	WebhookSecretHeader = "X-Webhook-Secret"
)

type BookingHandler struct {
	service booking.BookingUseCase
	logger  zerolog.Logger
}

type createBookingRequest struct {
	Kind        domain.Kind        `json:"kind" binding:"required"`
	Currency    string             `json:"currency" binding:"required"`
	Total       int64              `json:"total"`
	TypeDetails domain.TypeDetails `json:"type_details"`
}

type confirmBookingRequest struct {
	PaymentReference string `json:"payment_reference" binding:"required"`
	AmountCaptured   int64  `json:"amount_captured" binding:"required,gt=0"`
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

type refundRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

type bookingResponse struct {
	ID                 string             `json:"id"`
	Reference          string             `json:"booking_reference"`
	OwnerID            string             `json:"owner_id"`
	Kind               string             `json:"kind"`
	Status             string             `json:"status"`
	TypeDetails        domain.TypeDetails `json:"type_details"`
	Pricing            domain.Pricing     `json:"pricing"`
	PaymentReference   string             `json:"payment_reference,omitempty"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	CreatedAt          string             `json:"created_at"`
	UpdatedAt          string             `json:"updated_at"`
	ConfirmedAt        string             `json:"confirmed_at,omitempty"`
	CancelledAt        string             `json:"cancelled_at,omitempty"`
	CompletedAt        string             `json:"completed_at,omitempty"`
	ExpiresAt          string             `json:"expires_at,omitempty"`
}

type cancellationResponse struct {
	Booking       bookingResponse `json:"booking"`
	Fee           int64           `json:"fee"`
	RefundAmount  int64           `json:"refund_amount"`
	Refunded      int64           `json:"refunded"`
	RefundPending bool            `json:"refund_pending"`
	Error         string          `json:"error,omitempty"`
}

type refundResponse struct {
	Booking         bookingResponse `json:"booking"`
	Applied         int64           `json:"applied"`
	RefundReference string          `json:"refund_reference,omitempty"`
}

func NewBookingHandler(service booking.BookingUseCase, logger zerolog.Logger) *BookingHandler {
	return &BookingHandler{service: service, logger: logger}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("", h.list)
	router.GET("/reference/:reference", h.getByReference)
	router.GET("/:id", h.get)
	router.POST("/:id/checkout", h.checkout)
	router.POST("/:id/cancel", h.cancel)
	router.POST("/:id/complete", h.complete)
	router.POST("/:id/refunds", h.refund)
	router.POST("/:id/refunds/retry", h.retryRefund)
}

// RegisterWebhooks mounts the payment provider callbacks. The group must be
// guarded by WebhookAuth; bookings are addressed by id without an owner.
func (h *BookingHandler) RegisterWebhooks(router *gin.RouterGroup) {
	router.POST("/bookings/:id/confirm", h.confirmPayment)
}

func (h *BookingHandler) create(c *gin.Context) {
	owner, ok := requireUser(c)
	if !ok {
		return
	}
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.service.CreateBooking(c.Request.Context(), booking.CreateBookingInput{
		OwnerID:  owner,
		Kind:     req.Kind,
		Currency: req.Currency,
		Total:    req.Total,
		Details:  req.TypeDetails,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toBookingResponse(b))
}

func (h *BookingHandler) get(c *gin.Context) {
	b, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) getByReference(c *gin.Context) {
	owner, ok := requireUser(c)
	if !ok {
		return
	}
	b, err := h.service.GetByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if b.OwnerID != owner {
		h.writeError(c, domain.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) list(c *gin.Context) {
	owner, ok := requireUser(c)
	if !ok {
		return
	}
	filter := repository.OwnerFilter{
		Status: domain.BookingStatus(c.Query("status")),
		Kind:   domain.Kind(c.Query("kind")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	bookings, err := h.service.ListOwnerBookings(c.Request.Context(), owner, filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		resp = append(resp, toBookingResponse(b))
	}
	c.JSON(http.StatusOK, gin.H{"bookings": resp})
}

func (h *BookingHandler) confirmPayment(c *gin.Context) {
	var req confirmBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.service.ConfirmBooking(c.Request.Context(), c.Param("id"), booking.ConfirmInput{
		PaymentReference: req.PaymentReference,
		AmountCaptured:   req.AmountCaptured,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) checkout(c *gin.Context) {
	current, ok := h.owned(c)
	if !ok {
		return
	}
	b, err := h.service.CheckoutBooking(c.Request.Context(), current.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

// cancel answers 202 when the booking is cancelled but its refund is deferred.
func (h *BookingHandler) cancel(c *gin.Context) {
	current, ok := h.owned(c)
	if !ok {
		return
	}
	var req cancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := h.service.CancelBooking(c.Request.Context(), current.ID, req.Reason)
	if err != nil && result == nil {
		h.writeError(c, err)
		return
	}

	resp := cancellationResponse{
		Booking:      toBookingResponse(result.Booking),
		Fee:          result.Fee,
		RefundAmount: result.RefundAmount,
		Refunded:     result.Refunded,
	}
	if err != nil {
		resp.RefundPending = true
		resp.Error = err.Error()
		h.logger.Warn().Err(err).Str("booking_id", current.ID).Msg("cancelled with refund pending")
		c.JSON(http.StatusAccepted, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *BookingHandler) complete(c *gin.Context) {
	current, ok := h.owned(c)
	if !ok {
		return
	}
	b, err := h.service.CompleteBooking(c.Request.Context(), current.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

func (h *BookingHandler) refund(c *gin.Context) {
	current, ok := h.owned(c)
	if !ok {
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.RefundBooking(c.Request.Context(), current.ID, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRefundResponse(result))
}

func (h *BookingHandler) retryRefund(c *gin.Context) {
	current, ok := h.owned(c)
	if !ok {
		return
	}
	result, err := h.service.RetryRefund(c.Request.Context(), current.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRefundResponse(result))
}

// owned loads the booking named by :id and hides it from everyone but its owner.
func (h *BookingHandler) owned(c *gin.Context) (*domain.Booking, bool) {
	owner, ok := requireUser(c)
	if !ok {
		return nil, false
	}
	b, err := h.service.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	if b.OwnerID != owner {
		h.writeError(c, domain.ErrNotFound)
		return nil, false
	}
	return b, true
}

func requireUser(c *gin.Context) (string, bool) {
	owner := c.GetHeader(UserHeader)
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing " + UserHeader + " header"})
		return "", false
	}
	return owner, true
}

func (h *BookingHandler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	body := gin.H{"error": err.Error()}
	if errors.Is(err, domain.ErrAlreadyFinal) {
		body["code"] = "already_final"
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrPaymentServiceUnavailable), errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	resp := bookingResponse{
		ID:                 b.ID,
		Reference:          b.Reference,
		OwnerID:            b.OwnerID,
		Kind:               string(b.Kind),
		Status:             string(b.Status),
		TypeDetails:        b.Details,
		Pricing:            b.Pricing,
		CancellationReason: b.CancellationReason,
		CreatedAt:          b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          b.UpdatedAt.Format(time.RFC3339),
		ConfirmedAt:        formatTime(b.ConfirmedAt),
		CancelledAt:        formatTime(b.CancelledAt),
		CompletedAt:        formatTime(b.CompletedAt),
		ExpiresAt:          formatTime(b.ExpiresAt),
	}
	if b.Ledger != nil {
		resp.PaymentReference = b.Ledger.ProviderReference
	}
	return resp
}

func toRefundResponse(r *booking.RefundResult) refundResponse {
	return refundResponse{
		Booking:         toBookingResponse(r.Booking),
		Applied:         r.Applied,
		RefundReference: r.RefundReference,
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
