package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	// Rental order triggers
	TriggerAdvance Trigger = "ADVANCE"
	TriggerRevert  Trigger = "REVERT"
	TriggerCancel  Trigger = "CANCEL"

	// Damage report triggers
	TriggerSubmit  Trigger = "SUBMIT"
	TriggerApprove Trigger = "APPROVE"
	TriggerReject  Trigger = "REJECT"
	TriggerBill    Trigger = "BILL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
