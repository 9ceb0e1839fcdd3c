package booking

import (
	"fmt"
	"strings"
)

// FlowError is a domain-level booking failure with a fixed user message.
type FlowError struct {
	Code    string
	Message string
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	// ErrSlotTaken maps the backend's slot-conflict response. It gets its
	// own message because "try another time" is actionable and the generic
	// failure text is not.
	ErrSlotTaken = &FlowError{
		Code:    "slotTaken",
		Message: "Это время уже занято. Пожалуйста, выберите другой слот.",
	}

	// ErrIncompleteSelection fires when confirm is pressed without a full
	// service/date/slot selection.
	ErrIncompleteSelection = &FlowError{
		Code:    "incompleteSelection",
		Message: "Пожалуйста, выберите услугу, дату и время.",
	}

	// ErrPaymentFailed covers a create_payment envelope refusal.
	ErrPaymentFailed = &FlowError{
		Code:    "paymentFailed",
		Message: "Не удалось создать платёж. Попробуйте ещё раз.",
	}
)

// isSlotTaken recognizes the backend's slot-conflict error across scenario
// revisions, which disagree on the exact wording.
func isSlotTaken(serverErr string) bool {
	s := strings.ToLower(serverErr)
	return strings.Contains(s, "taken") ||
		strings.Contains(s, "занят") ||
		strings.Contains(s, "slot_already_booked")
}
