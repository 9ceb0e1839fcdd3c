package models

// Booking is one confirmed appointment of the current user.
type Booking struct {
	ID          string `json:"id"`
	Service     string `json:"service"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	MeetingLink string `json:"meeting_link,omitempty"`
	Status      string `json:"status,omitempty"`
}
