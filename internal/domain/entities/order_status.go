package entities

import "fmt"

// OrderStatus represents the settlement stage of an order
type OrderStatus string

const (
	OrderStatusCreated             OrderStatus = "CREATED"
	OrderStatusPendingVerification OrderStatus = "PENDING_VERIFICATION"
	OrderStatusVerified            OrderStatus = "VERIFIED"
	OrderStatusProcessingPayout    OrderStatus = "PROCESSING_PAYOUT"
	OrderStatusCompleted           OrderStatus = "COMPLETED"

	OrderStatusFailedPaymentNotFound OrderStatus = "FAILED_PaymentNotFound"
	OrderStatusFailedPaymentMismatch OrderStatus = "FAILED_PaymentMismatch"
	OrderStatusFailedPayoutFailed    OrderStatus = "FAILED_PayoutFailed"
)

// ValidOrderStatuses contains all valid order statuses
var ValidOrderStatuses = map[OrderStatus]bool{
	OrderStatusCreated:               true,
	OrderStatusPendingVerification:   true,
	OrderStatusVerified:              true,
	OrderStatusProcessingPayout:      true,
	OrderStatusCompleted:             true,
	OrderStatusFailedPaymentNotFound: true,
	OrderStatusFailedPaymentMismatch: true,
	OrderStatusFailedPayoutFailed:    true,
}

var failureStatuses = []OrderStatus{
	OrderStatusFailedPaymentNotFound,
	OrderStatusFailedPaymentMismatch,
	OrderStatusFailedPayoutFailed,
}

// ValidOrderTransitions defines the forward edges of the state machine.
// Failure states are reachable from every non-terminal state.
var ValidOrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:               append([]OrderStatus{OrderStatusPendingVerification}, failureStatuses...),
	OrderStatusPendingVerification:   append([]OrderStatus{OrderStatusVerified}, failureStatuses...),
	OrderStatusVerified:              append([]OrderStatus{OrderStatusProcessingPayout}, failureStatuses...),
	OrderStatusProcessingPayout:      append([]OrderStatus{OrderStatusCompleted}, failureStatuses...),
	OrderStatusCompleted:             {},
	OrderStatusFailedPaymentNotFound: {},
	OrderStatusFailedPaymentMismatch: {},
	OrderStatusFailedPayoutFailed:    {},
}

// ParseOrderStatus rejects unknown status strings.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown order status: %q", s)
	}
	return status, nil
}

// IsValid checks if the status is a known order status
func (s OrderStatus) IsValid() bool {
	return ValidOrderStatuses[s]
}

// CanTransitionTo checks if transition to new status is allowed
func (s OrderStatus) CanTransitionTo(newStatus OrderStatus) bool {
	for _, status := range ValidOrderTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal returns true for COMPLETED and every FAILED_ state
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s.IsFailure()
}

// IsFailure returns true for FAILED_ states
func (s OrderStatus) IsFailure() bool {
	for _, f := range failureStatuses {
		if s == f {
			return true
		}
	}
	return false
}

// Rank orders statuses along the success path; failures rank last.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderStatusCreated:
		return 0
	case OrderStatusPendingVerification:
		return 1
	case OrderStatusVerified:
		return 2
	case OrderStatusProcessingPayout:
		return 3
	case OrderStatusCompleted:
		return 4
	default:
		return 5
	}
}

// ValidateTransition validates and returns error if transition is invalid
func (s OrderStatus) ValidateTransition(newStatus OrderStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid order status: %s", newStatus)
	}
	if !s.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid status transition from %s to %s", s, newStatus)
	}
	return nil
}

// NonTerminalOrderStatuses lists the states the recovery sweep resumes.
func NonTerminalOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusCreated,
		OrderStatusPendingVerification,
		OrderStatusVerified,
		OrderStatusProcessingPayout,
	}
}
