package booking

import (
	"sync"
	"time"

	"slotbook/models"
)

// Phase is the booking flow's current position in the
// select → confirm → pay → settle sequence.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseServiceSelected Phase = "service_selected"
	PhaseDateSelected    Phase = "date_selected"
	PhaseSlotSelected    Phase = "slot_selected"
	PhaseConfirming      Phase = "confirming"
	PhaseBooked          Phase = "booked"
	PhaseAwaitingPayment Phase = "awaiting_payment"
	PhasePollingPayment  Phase = "polling_payment"
	PhaseSettled         Phase = "settled"
	PhasePollTimedOut    Phase = "poll_timed_out"
)

// State is the single record of the booking screen's selections. It is
// mutated only through the named transitions below; view code renders from
// Snapshot copies and never touches the record directly.
//
// Results loaded for a selection the user has since navigated away from are
// rejected at apply time: ApplyDates and ApplySlots compare the result's key
// against the current selection and report whether the data was taken.
type State struct {
	mu sync.Mutex

	phase           Phase
	selectedService models.Service
	hasService      bool
	selectedDate    string
	selectedSlot    string
	selectedSlotID  string
	availableDates  []models.AvailableDate
	availableSlots  []models.Slot
	currentMonth    time.Time
}

// Snapshot is an independent copy of the state for rendering.
type Snapshot struct {
	Phase           Phase
	SelectedService models.Service
	HasService      bool
	SelectedDate    string
	SelectedSlot    string
	SelectedSlotID  string
	AvailableDates  []models.AvailableDate
	AvailableSlots  []models.Slot
	CurrentMonth    time.Time
}

func NewState(now time.Time) *State {
	return &State{
		phase:        PhaseIdle,
		currentMonth: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()),
	}
}

// SetService picks a service. Any previous date and slot selection becomes
// meaningless and is cleared.
func (s *State) SetService(svc models.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedService = svc
	s.hasService = true
	s.selectedDate = ""
	s.selectedSlot = ""
	s.selectedSlotID = ""
	s.availableDates = nil
	s.availableSlots = nil
	s.phase = PhaseServiceSelected
}

// ApplyDates installs a loaded date list, unless the user has moved to a
// different service since the load started.
func (s *State) ApplyDates(serviceID string, dates []models.AvailableDate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasService || s.selectedService.ID != serviceID {
		return false
	}
	s.availableDates = append([]models.AvailableDate(nil), dates...)
	return true
}

// SetDate picks a date. The slot selection is cleared.
func (s *State) SetDate(date string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasService {
		return false
	}
	s.selectedDate = date
	s.selectedSlot = ""
	s.selectedSlotID = ""
	s.availableSlots = nil
	s.phase = PhaseDateSelected
	return true
}

// ApplySlots installs a loaded slot list, unless the user has moved to a
// different date since the load started. A stale result is dropped, not
// merged.
func (s *State) ApplySlots(date string, slots []models.Slot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedDate != date {
		return false
	}
	s.availableSlots = append([]models.Slot(nil), slots...)
	return true
}

// SetSlot picks a slot from the loaded list.
func (s *State) SetSlot(slot models.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedSlot = slot.Time
	s.selectedSlotID = slot.ID
	s.phase = PhaseSlotSelected
}

// FindSlot returns the loaded slot with the given ID.
func (s *State) FindSlot(id string) (models.Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.availableSlots {
		if slot.ID == id {
			return slot, true
		}
	}
	return models.Slot{}, false
}

// Selection returns the full current selection if it is complete.
func (s *State) Selection() (svc models.Service, date, slotID, slotTime string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasService || s.selectedDate == "" || s.selectedSlotID == "" {
		return models.Service{}, "", "", "", false
	}
	return s.selectedService, s.selectedDate, s.selectedSlotID, s.selectedSlot, true
}

// SetPhase records a flow transition that does not change the selection.
func (s *State) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// Phase returns the current flow phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// ChangeMonth moves the calendar by delta months.
func (s *State) ChangeMonth(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentMonth = s.currentMonth.AddDate(0, delta, 0)
}

// Reset clears every selection, returning the flow to Idle. Called after a
// successful booking, on cancellation, and when the user leaves the booking
// tab.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedService = models.Service{}
	s.hasService = false
	s.selectedDate = ""
	s.selectedSlot = ""
	s.selectedSlotID = ""
	s.availableDates = nil
	s.availableSlots = nil
	s.phase = PhaseIdle
}

// Snapshot returns an independent copy for rendering.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Phase:           s.phase,
		SelectedService: s.selectedService,
		HasService:      s.hasService,
		SelectedDate:    s.selectedDate,
		SelectedSlot:    s.selectedSlot,
		SelectedSlotID:  s.selectedSlotID,
		AvailableDates:  append([]models.AvailableDate(nil), s.availableDates...),
		AvailableSlots:  append([]models.Slot(nil), s.availableSlots...),
		CurrentMonth:    s.currentMonth,
	}
}
