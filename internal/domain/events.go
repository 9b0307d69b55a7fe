package domain

// Lifecycle event types published after a transition is stored.
const (
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingCancelled = "booking_cancelled"
	EventBookingRefunded  = "booking_refunded"
	EventBookingExpired   = "booking_expired"
	EventBookingCompleted = "booking_completed"
)
