package booking

import (
	"context"
	"time"

	"slotbook/models"
	"slotbook/platform"

	"go.uber.org/zap"
)

const pollFetchTimeout = 5 * time.Second

// pollSession tracks one bounded fast-poll run against the club document.
// It lives only while the flow waits for a single payment to settle and is
// discarded on success, exhaustion or navigation away. The cancelled flag
// (guarded by Flow.pollMu) covers the window where a cycle is already past
// the scheduler when the user navigates away.
type pollSession struct {
	attempts    int
	maxAttempts int
	interval    time.Duration
	baseline    map[string]struct{}
	cancelled   bool
}

// startPaymentPoll begins the fast settlement watch. The document store is
// polled directly (never through the cache) because this is the one read
// where staleness defeats the purpose.
func (f *Flow) startPaymentPoll(baseline map[string]struct{}) {
	f.state.SetPhase(PhasePollingPayment)
	s := &pollSession{
		maxAttempts: f.pollMaxAttempts,
		interval:    f.pollInterval,
		baseline:    baseline,
	}
	f.pollMu.Lock()
	if f.activePoll != nil {
		f.activePoll.cancelled = true
	}
	f.activePoll = s
	f.pollMu.Unlock()
	f.poller.Schedule(s.interval, func() { f.pollOnce(s) })
}

// cancelPoll ends the active poll session, if any. The scheduler cancel alone
// is not enough: a cycle already inside pollOnce would re-arm itself.
func (f *Flow) cancelPoll() {
	f.pollMu.Lock()
	if f.activePoll != nil {
		f.activePoll.cancelled = true
		f.activePoll = nil
	}
	f.pollMu.Unlock()
	f.poller.Cancel()
}

func (f *Flow) pollCancelled(s *pollSession) bool {
	f.pollMu.Lock()
	defer f.pollMu.Unlock()
	return s.cancelled
}

func (f *Flow) clearPoll(s *pollSession) {
	f.pollMu.Lock()
	if f.activePoll == s {
		f.activePoll = nil
	}
	f.pollMu.Unlock()
}

// pollOnce performs one poll cycle. Settlement is detected by diffing the
// user's succeeded payments against the baseline set, never by comparing
// list lengths: other users' payments land in the same shared document.
func (f *Flow) pollOnce(s *pollSession) {
	if f.pollCancelled(s) {
		return
	}
	s.attempts++

	ctx, cancel := context.WithTimeout(context.Background(), pollFetchTimeout)
	doc, err := f.docs.FetchClub(ctx)
	cancel()
	// The user may have navigated away while the fetch was in flight; a
	// cancelled session must neither settle nor re-arm.
	if f.pollCancelled(s) {
		return
	}
	if err != nil {
		// Background poll failures degrade silently.
		f.logger.Debug("payment poll fetch failed",
			zap.Int("attempt", s.attempts), zap.Error(err))
	} else {
		for _, p := range doc.SettledFor(f.user.ID) {
			if _, known := s.baseline[p.PaidAt]; !known {
				f.logger.Info("payment settled",
					zap.Int64("user", f.user.ID),
					zap.Int("attempt", s.attempts))
				f.clearPoll(s)
				f.settle(doc)
				return
			}
		}
	}

	if s.attempts >= s.maxAttempts {
		f.clearPoll(s)
		f.state.SetPhase(PhasePollTimedOut)
		f.logger.Info("fast payment poll exhausted, handing off",
			zap.Int("attempts", s.attempts))
		if f.watcher != nil {
			baseline := make([]string, 0, len(s.baseline))
			for k := range s.baseline {
				baseline = append(baseline, k)
			}
			deadline := f.clock.Now().Add(f.watcherDeadline)
			if err := f.watcher.Enqueue(f.user.ID, baseline, deadline); err != nil {
				f.logger.Warn("settlement watcher enqueue failed", zap.Error(err))
			}
		}
		return
	}
	f.poller.Schedule(s.interval, func() { f.pollOnce(s) })
}

// settle records a detected settlement: the club document becomes the new
// cached truth, everything booking-related is invalidated and the user is
// told.
func (f *Flow) settle(doc models.ClubDocument) {
	ctx, cancel := context.WithTimeout(context.Background(), pollFetchTimeout)
	defer cancel()

	if err := f.cache.Set(ctx, keyClub, doc, f.cacheTTL); err != nil {
		f.logger.Warn("club cache update failed", zap.Error(err))
	}
	f.invalidateBookingCaches(ctx)
	f.state.Reset()
	f.state.SetPhase(PhaseSettled)
	f.bridge.Haptic(platform.HapticSuccess)
	f.notifier.Alert("Оплата получена! Запись подтверждена.")
}

// CheckPayment is the manual re-check available after the fast poll timed
// out: it bypasses the cache and reports whether any settled payment exists
// for the user.
func (f *Flow) CheckPayment(ctx context.Context) (bool, error) {
	doc, err := f.docs.FetchClub(ctx)
	if err != nil {
		return false, err
	}
	if len(doc.SettledFor(f.user.ID)) == 0 {
		return false, nil
	}
	f.settle(doc)
	return true, nil
}
