package booking

import (
	"context"

	"slotbook/cache"
	"slotbook/models"
)

// Membership describes the user's club standing for the club screen.
type Membership struct {
	Member      bool
	MeetingLink string
}

// ClubStatus reports whether the user has a settled club payment, cache-first.
func (f *Flow) ClubStatus(ctx context.Context) (Membership, error) {
	doc, err := cache.GetOrFetch(ctx, f.cache, keyClub, f.cacheTTL,
		func(fctx context.Context, _ bool) (models.ClubDocument, error) {
			return f.docs.FetchClub(fctx)
		})
	if err != nil {
		return Membership{}, err
	}
	m := Membership{Member: len(doc.SettledFor(f.user.ID)) > 0}
	if m.Member {
		m.MeetingLink = doc.MeetingLink
	}
	return m, nil
}

// SlotsSnapshot loads the bulk slots document cache-first. The calendar can
// derive per-service availability from it without extra RPC round trips.
func (f *Flow) SlotsSnapshot(ctx context.Context) (models.SlotsDocument, error) {
	return cache.GetOrFetch(ctx, f.cache, keySlotsDoc, f.cacheTTL,
		func(fctx context.Context, _ bool) (models.SlotsDocument, error) {
			return f.docs.FetchSlots(fctx)
		})
}
