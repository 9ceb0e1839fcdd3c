package models

import (
	"encoding/json"
	"fmt"
)

// Envelope is the uniform response wrapper returned by the webhook backend.
// Raw keeps the full body so action-specific decoders can pull their fields
// without every caller re-reading the HTTP response.
type Envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// ParseEnvelope decodes the backend response body. A body that is not valid
// JSON is a terminal parse failure.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed response body: %w", err)
	}
	env.Raw = append(json.RawMessage(nil), body...)
	return env, nil
}

// The backend is a no-code scenario and its result shapes drifted between
// revisions. All duck-typing tolerance lives in the decoders below so flow
// logic only ever sees typed records.

// DecodeDates extracts the available-date list. Older scenario revisions
// return plain date strings, newer ones objects with a slot count.
func DecodeDates(env Envelope) ([]AvailableDate, error) {
	var payload struct {
		Dates []json.RawMessage `json:"dates"`
	}
	if err := json.Unmarshal(env.Raw, &payload); err != nil {
		return nil, fmt.Errorf("decode dates: %w", err)
	}
	dates := make([]AvailableDate, 0, len(payload.Dates))
	for _, raw := range payload.Dates {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				dates = append(dates, AvailableDate{Date: s, SlotsCount: 1})
			}
			continue
		}
		var d AvailableDate
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode dates entry: %w", err)
		}
		if d.Date == "" {
			continue
		}
		if d.SlotsCount == 0 {
			d.SlotsCount = 1
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// DecodeSlots extracts the slot list for one date, dropping entries with no
// time, which the backend occasionally emits.
func DecodeSlots(env Envelope) ([]Slot, error) {
	var payload struct {
		Slots []Slot `json:"slots"`
	}
	if err := json.Unmarshal(env.Raw, &payload); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	slots := make([]Slot, 0, len(payload.Slots))
	for _, s := range payload.Slots {
		if s.Time == "" {
			continue
		}
		slots = append(slots, s)
	}
	return slots, nil
}

// DecodeBookings extracts the user's bookings. Some scenario revisions nest
// the list under bookings.array.
func DecodeBookings(env Envelope) ([]Booking, error) {
	var direct struct {
		Bookings []Booking `json:"bookings"`
	}
	if err := json.Unmarshal(env.Raw, &direct); err == nil && direct.Bookings != nil {
		return direct.Bookings, nil
	}
	var nested struct {
		Bookings struct {
			Array []Booking `json:"array"`
		} `json:"bookings"`
	}
	if err := json.Unmarshal(env.Raw, &nested); err != nil {
		return nil, fmt.Errorf("decode bookings: %w", err)
	}
	return nested.Bookings.Array, nil
}

// DecodeMeetingLink extracts the meeting link from a booking confirmation,
// if the backend attached one.
func DecodeMeetingLink(env Envelope) string {
	var payload struct {
		ZoomLink    string `json:"zoom_link"`
		MeetingLink string `json:"meeting_link"`
	}
	if err := json.Unmarshal(env.Raw, &payload); err != nil {
		return ""
	}
	if payload.MeetingLink != "" {
		return payload.MeetingLink
	}
	return payload.ZoomLink
}

// DecodePayment extracts the external payment page reference.
func DecodePayment(env Envelope) (PaymentRef, error) {
	var ref PaymentRef
	if err := json.Unmarshal(env.Raw, &ref); err != nil {
		return PaymentRef{}, fmt.Errorf("decode payment: %w", err)
	}
	if ref.URL == "" {
		return PaymentRef{}, fmt.Errorf("decode payment: missing payment_url")
	}
	return ref, nil
}
