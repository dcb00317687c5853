package entities

import "fmt"

// DepositStatus represents the status of a deposit
type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "pending"
	DepositStatusConfirmed DepositStatus = "confirmed"
	DepositStatusFailed    DepositStatus = "failed"
)

// ValidDepositStatuses contains all valid deposit statuses
var ValidDepositStatuses = map[DepositStatus]bool{
	DepositStatusPending:   true,
	DepositStatusConfirmed: true,
	DepositStatusFailed:    true,
}

// ValidDepositTransitions defines allowed status transitions.
// Confirmed and failed are terminal: a deposit is credited at most once,
// and a reorged-out deposit never comes back under the same row.
var ValidDepositTransitions = map[DepositStatus][]DepositStatus{
	DepositStatusPending:   {DepositStatusConfirmed, DepositStatusFailed},
	DepositStatusConfirmed: {},
	DepositStatusFailed:    {},
}

// IsValid checks if the status is a valid deposit status
func (s DepositStatus) IsValid() bool {
	return ValidDepositStatuses[s]
}

// CanTransitionTo checks if transition to new status is allowed
func (s DepositStatus) CanTransitionTo(newStatus DepositStatus) bool {
	allowed, exists := ValidDepositTransitions[s]
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
func (s DepositStatus) IsTerminal() bool {
	return s == DepositStatusConfirmed || s == DepositStatusFailed
}

// ValidateTransition validates and returns error if transition is invalid
func (s DepositStatus) ValidateTransition(newStatus DepositStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid deposit status: %s", newStatus)
	}
	if !s.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid status transition from %s to %s", s, newStatus)
	}
	return nil
}
