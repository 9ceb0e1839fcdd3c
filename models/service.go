package models

// Service describes a bookable consultation offering.
type Service struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       int    `json:"price"`
	DurationMin int    `json:"duration"`
	Icon        string `json:"icon,omitempty"`
}

// Free reports whether booking this service requires no payment.
func (s Service) Free() bool {
	return s.Price == 0
}
