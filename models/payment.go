package models

// PaymentStatus of a club payment record in the published document.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
)

// ClubPayment is one payment record from the club document. The document is
// shared across all users, so consumers must always filter by UserID.
type ClubPayment struct {
	UserID int64         `json:"user_id"`
	Status PaymentStatus `json:"status"`
	PaidAt string        `json:"paid_at,omitempty"`
}

// ClubDocument enumerates club payments plus the shared meeting link.
type ClubDocument struct {
	Payments    []ClubPayment `json:"payments"`
	MeetingLink string        `json:"meeting_link,omitempty"`
}

// SettledFor returns the succeeded payments belonging to one user.
func (d ClubDocument) SettledFor(userID int64) []ClubPayment {
	var out []ClubPayment
	for _, p := range d.Payments {
		if p.UserID == userID && p.Status == PaymentSucceeded {
			out = append(out, p)
		}
	}
	return out
}

// PaymentRef is the external payment page reference returned by
// create_payment.
type PaymentRef struct {
	ID  string `json:"payment_id"`
	URL string `json:"payment_url"`
}
