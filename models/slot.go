package models

// SlotStatus is the lifecycle state of a slot in the published slots document.
type SlotStatus string

const (
	SlotFree   SlotStatus = "free"
	SlotLocked SlotStatus = "locked"
	SlotBooked SlotStatus = "booked"
)

// Slot is a single bookable time slot. Dates use DD.MM.YYYY and times HH:MM,
// matching the published document format.
type Slot struct {
	ID      string     `json:"id"`
	Service string     `json:"service"`
	Date    string     `json:"date"`
	Time    string     `json:"time"`
	Status  SlotStatus `json:"status"`
}

// AvailableDate is a calendar day that has at least one free slot.
type AvailableDate struct {
	Date       string `json:"date"`
	SlotsCount int    `json:"slots_count"`
}

// SlotsDocument is the bulk snapshot of every slot across all services,
// published as a static JSON file.
type SlotsDocument struct {
	Slots     []Slot `json:"slots"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// FreeDates derives the available-date list for a service from the bulk
// snapshot, counting only free slots.
func (d SlotsDocument) FreeDates(service string) []AvailableDate {
	counts := make(map[string]int)
	var order []string
	for _, s := range d.Slots {
		if s.Service != service || s.Status != SlotFree {
			continue
		}
		if _, seen := counts[s.Date]; !seen {
			order = append(order, s.Date)
		}
		counts[s.Date]++
	}
	dates := make([]AvailableDate, 0, len(order))
	for _, date := range order {
		dates = append(dates, AvailableDate{Date: date, SlotsCount: counts[date]})
	}
	return dates
}

// FreeSlots derives the free slots for a service on one date.
func (d SlotsDocument) FreeSlots(service, date string) []Slot {
	var out []Slot
	for _, s := range d.Slots {
		if s.Service == service && s.Date == date && s.Status == SlotFree {
			out = append(out, s)
		}
	}
	return out
}
