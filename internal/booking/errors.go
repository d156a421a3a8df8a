package booking

import "errors"

// Business rejections and lock denials surfaced by the booking strategies.
// Handlers translate these into HTTP statuses; none of them is ever retried
// internally — waiting does not make a missing ticket appear or quantity grow.
var (
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrInsufficientQuantity = errors.New("insufficient ticket quantity")
	ErrTicketLocked         = errors.New("ticket locked by another transaction")
)

const (
	StrategyPessimistic = "pessimistic"
	StrategyOptimistic  = "optimistic"

	ActionBook    = "book"
	ActionRelease = "release"
)
