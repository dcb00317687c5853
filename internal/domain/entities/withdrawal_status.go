package entities

import "fmt"

// WithdrawalStatus represents the status of a withdrawal request
type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "pending"
	WithdrawalStatusRiskReview WithdrawalStatus = "risk_review"
	WithdrawalStatusApproved   WithdrawalStatus = "approved"
	WithdrawalStatusBroadcast  WithdrawalStatus = "broadcast"
	WithdrawalStatusConfirmed  WithdrawalStatus = "confirmed"
	WithdrawalStatusFailed     WithdrawalStatus = "failed"
	WithdrawalStatusCanceled   WithdrawalStatus = "canceled"
)

// ValidWithdrawalStatuses contains all valid withdrawal statuses
var ValidWithdrawalStatuses = map[WithdrawalStatus]bool{
	WithdrawalStatusPending:    true,
	WithdrawalStatusRiskReview: true,
	WithdrawalStatusApproved:   true,
	WithdrawalStatusBroadcast:  true,
	WithdrawalStatusConfirmed:  true,
	WithdrawalStatusFailed:     true,
	WithdrawalStatusCanceled:   true,
}

// ValidWithdrawalTransitions defines allowed status transitions.
// Cancellation is only possible before approval; once a withdrawal is
// approved the funds are on their way out and only the chain decides.
var ValidWithdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalStatusPending:    {WithdrawalStatusRiskReview, WithdrawalStatusApproved, WithdrawalStatusCanceled},
	WithdrawalStatusRiskReview: {WithdrawalStatusApproved, WithdrawalStatusCanceled},
	WithdrawalStatusApproved:   {WithdrawalStatusBroadcast, WithdrawalStatusFailed},
	WithdrawalStatusBroadcast:  {WithdrawalStatusConfirmed, WithdrawalStatusFailed},
	WithdrawalStatusConfirmed:  {},
	WithdrawalStatusFailed:     {},
	WithdrawalStatusCanceled:   {},
}

// IsValid checks if the status is a valid withdrawal status
func (s WithdrawalStatus) IsValid() bool {
	return ValidWithdrawalStatuses[s]
}

// CanTransitionTo checks if transition to new status is allowed
func (s WithdrawalStatus) CanTransitionTo(newStatus WithdrawalStatus) bool {
	allowed, exists := ValidWithdrawalTransitions[s]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s WithdrawalStatus) IsTerminal() bool {
	switch s {
	case WithdrawalStatusConfirmed, WithdrawalStatusFailed, WithdrawalStatusCanceled:
		return true
	}
	return false
}

// IsCancelable returns true while the request can still be withdrawn
// by the user or rejected by an operator.
func (s WithdrawalStatus) IsCancelable() bool {
	return s == WithdrawalStatusPending || s == WithdrawalStatusRiskReview
}

// ValidateTransition validates and returns error if transition is invalid
func (s WithdrawalStatus) ValidateTransition(newStatus WithdrawalStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid withdrawal status: %s", newStatus)
	}
	if !s.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid status transition from %s to %s", s, newStatus)
	}
	return nil
}
