package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"slotbook/api"
	"slotbook/cache"
	"slotbook/models"
	"slotbook/platform"
	"slotbook/utils"

	"go.uber.org/zap"
)

// Logical channel names scoping single-flight cancellation. Loading dates
// and loading slots run under different channels on purpose: they must never
// cancel each other.
const (
	ctxDates    = "get_available_dates"
	ctxSlots    = "get_available_slots"
	ctxBookings = "get_user_bookings"
)

// Cache keys. Booking mutations invalidate the dates_/slots_ prefixes plus
// user_bookings so a just-booked slot disappears everywhere at once.
const (
	keyBookings = "user_bookings"
	keyClub     = "club_payments"
	keySlotsDoc = "slots_document"
)

func datesKey(serviceID string) string { return "dates_" + serviceID }

func slotsKey(serviceID, date string) string { return "slots_" + serviceID + "_" + date }

// SettlementWatcher takes over payment watching after the fast poll gives
// up, re-checking on a slow cadence in the background.
type SettlementWatcher interface {
	Enqueue(userID int64, baseline []string, deadline time.Time) error
}

// FlowConfig wires a Flow.
type FlowConfig struct {
	Cache    *cache.Cache
	RPC      *api.Coordinator
	Docs     *api.DocsClient
	Bridge   platform.Bridge
	Notifier *platform.Notifier
	Watcher  SettlementWatcher
	User     models.UserInfo
	Clock    utils.Clock
	Logger   *zap.Logger

	Catalog         []models.Service
	CacheTTL        time.Duration
	DebounceDelay   time.Duration
	PollInterval    time.Duration
	PollMaxAttempts int
	WatcherDeadline time.Duration
}

// Flow drives the booking screen: it owns the selection state, loads dates
// and slots cache-first, sequences confirm → book or confirm → pay, and
// watches for asynchronous payment settlement.
type Flow struct {
	state    *State
	cache    *cache.Cache
	rpc      *api.Coordinator
	docs     *api.DocsClient
	bridge   platform.Bridge
	notifier *platform.Notifier
	watcher  SettlementWatcher
	user     models.UserInfo
	clock    utils.Clock
	logger   *zap.Logger

	catalog         []models.Service
	cacheTTL        time.Duration
	debounceDelay   time.Duration
	pollInterval    time.Duration
	pollMaxAttempts int
	watcherDeadline time.Duration

	debounce *Scheduler
	poller   *Scheduler
	guards   guardSet

	pollMu     sync.Mutex
	activePoll *pollSession
}

func NewFlow(cfg FlowConfig) *Flow {
	if cfg.Clock == nil {
		cfg.Clock = utils.RealClock()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 150 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = 15
	}
	if cfg.WatcherDeadline <= 0 {
		cfg.WatcherDeadline = 30 * time.Minute
	}
	return &Flow{
		state:           NewState(cfg.Clock.Now()),
		cache:           cfg.Cache,
		rpc:             cfg.RPC,
		docs:            cfg.Docs,
		bridge:          cfg.Bridge,
		notifier:        cfg.Notifier,
		watcher:         cfg.Watcher,
		user:            cfg.User,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		catalog:         cfg.Catalog,
		cacheTTL:        cfg.CacheTTL,
		debounceDelay:   cfg.DebounceDelay,
		pollInterval:    cfg.PollInterval,
		pollMaxAttempts: cfg.PollMaxAttempts,
		watcherDeadline: cfg.WatcherDeadline,
		debounce:        NewScheduler(),
		poller:          NewScheduler(),
	}
}

// Services returns the bookable catalog.
func (f *Flow) Services() []models.Service {
	return append([]models.Service(nil), f.catalog...)
}

// State returns a snapshot of the current selections for rendering.
func (f *Flow) State() Snapshot {
	return f.state.Snapshot()
}

// ChangeMonth moves the booking calendar.
func (f *Flow) ChangeMonth(delta int) {
	f.state.ChangeMonth(delta)
}

// SelectService picks a service, clears any date/slot selection and loads
// the available dates cache-first.
func (f *Flow) SelectService(ctx context.Context, serviceID string) error {
	svc, ok := FindService(f.catalog, serviceID)
	if !ok {
		return fmt.Errorf("unknown service %q", serviceID)
	}
	f.debounce.Cancel()
	f.state.SetService(svc)

	dates, err := cache.GetOrFetch(ctx, f.cache, datesKey(svc.ID), f.cacheTTL,
		func(fctx context.Context, background bool) ([]models.AvailableDate, error) {
			return f.fetchDates(fctx, svc.ID, background)
		})
	if err != nil {
		if errors.Is(err, api.ErrSuperseded) {
			return nil
		}
		return err
	}
	if !f.state.ApplyDates(svc.ID, dates) {
		f.logger.Debug("stale date load discarded", zap.String("service", svc.ID))
	}
	return nil
}

// readOptions builds the call options for an idempotent read. A background
// revalidation stays silent and runs on its own single-flight channel so it
// never pops an error dialog or supersedes a user-initiated load.
func readOptions(name string, background bool) api.CallOptions {
	opts := api.CallOptions{Context: name, Retryable: true}
	if background {
		opts.Context = name + ":refresh"
		opts.Silent = true
	}
	return opts
}

func (f *Flow) fetchDates(ctx context.Context, serviceID string, background bool) ([]models.AvailableDate, error) {
	env, err := f.rpc.Call(ctx, "get_available_dates",
		map[string]any{"service_id": serviceID},
		readOptions(ctxDates, background))
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("get_available_dates refused: %s", env.Error)
	}
	return models.DecodeDates(env)
}

// SelectDate picks a date and schedules the slot load after the debounce
// delay, so rapid calendar tapping only fetches the final target.
func (f *Flow) SelectDate(ctx context.Context, date string) error {
	snap := f.state.Snapshot()
	if !snap.HasService {
		return ErrIncompleteSelection
	}
	f.state.SetDate(date)
	serviceID := snap.SelectedService.ID
	f.debounce.Schedule(f.debounceDelay, func() {
		f.loadSlots(ctx, serviceID, date)
	})
	return nil
}

// loadSlots fetches the slots for one date cache-first and applies them only
// if that date is still selected.
func (f *Flow) loadSlots(ctx context.Context, serviceID, date string) {
	slots, err := cache.GetOrFetch(ctx, f.cache, slotsKey(serviceID, date), f.cacheTTL,
		func(fctx context.Context, background bool) ([]models.Slot, error) {
			return f.fetchSlots(fctx, serviceID, date, background)
		})
	if err != nil {
		if !errors.Is(err, api.ErrSuperseded) {
			f.logger.Warn("slot load failed", zap.String("date", date), zap.Error(err))
		}
		return
	}
	if !f.state.ApplySlots(date, slots) {
		f.logger.Debug("stale slot load discarded", zap.String("date", date))
	}
}

func (f *Flow) fetchSlots(ctx context.Context, serviceID, date string, background bool) ([]models.Slot, error) {
	env, err := f.rpc.Call(ctx, "get_available_slots",
		map[string]any{"service_id": serviceID, "date": date},
		readOptions(ctxSlots, background))
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("get_available_slots refused: %s", env.Error)
	}
	return models.DecodeSlots(env)
}

// SelectSlot picks a slot. A short-lived busy flag makes rapid double
// activation a no-op.
func (f *Flow) SelectSlot(slotID string) error {
	if !f.guards.acquire(&f.guards.selectingSlot) {
		return nil
	}
	defer f.guards.release(&f.guards.selectingSlot)

	slot, ok := f.state.FindSlot(slotID)
	if !ok {
		return fmt.Errorf("slot %q is not in the loaded list", slotID)
	}
	f.state.SetSlot(slot)
	f.bridge.Haptic(platform.HapticLight)
	return nil
}

// Confirm runs the booking confirmation for the current selection: a free
// service books directly, a paid one goes through payment creation. A second
// confirm while one is outstanding, including while its popup is still on
// screen, is a no-op.
func (f *Flow) Confirm(ctx context.Context) error {
	if !f.guards.acquire(&f.guards.confirming) {
		return nil
	}
	defer f.guards.release(&f.guards.confirming)

	svc, date, slotID, slotTime, ok := f.state.Selection()
	if !ok {
		f.notifier.Alert(ErrIncompleteSelection.Message)
		return ErrIncompleteSelection
	}

	choice, err := f.bridge.ShowConfirm("Подтверждение",
		fmt.Sprintf("Записаться на %s в %s?", date, slotTime),
		[]platform.Button{{ID: "ok", Text: "Записаться"}, {ID: "cancel", Text: "Отмена"}})
	if err != nil || choice != "ok" {
		return nil
	}

	f.state.SetPhase(PhaseConfirming)
	if svc.Free() {
		return f.bookFree(ctx, svc, date, slotID, slotTime)
	}
	return f.startPayment(ctx, svc, date, slotID, slotTime)
}

// bookFree issues the mutating book_slot call. Never auto-retried: a
// duplicate submission is worse than asking the user to tap again.
func (f *Flow) bookFree(ctx context.Context, svc models.Service, date, slotID, slotTime string) error {
	if !f.guards.acquire(&f.guards.booking) {
		return nil
	}
	defer f.guards.release(&f.guards.booking)

	f.bridge.ShowProgress()
	defer f.bridge.HideProgress()

	env, err := f.rpc.Call(ctx, "book_slot",
		map[string]any{
			"slot_id":    slotID,
			"service_id": svc.ID,
			"date":       date,
			"time":       slotTime,
		},
		api.CallOptions{Context: "book_slot"})
	if err != nil {
		f.state.SetPhase(PhaseSlotSelected)
		if errors.Is(err, api.ErrSuperseded) {
			return nil
		}
		return err
	}
	if !env.Success {
		f.state.SetPhase(PhaseSlotSelected)
		if isSlotTaken(env.Error) {
			f.notifier.Alert(ErrSlotTaken.Message)
			// The conflicting slot must vanish from the picker.
			if err := f.cache.Clear(ctx, slotsKey(svc.ID, date)); err != nil {
				f.logger.Warn("slot cache invalidation failed", zap.Error(err))
			}
			return ErrSlotTaken
		}
		f.notifier.Alert("Не удалось забронировать слот. Попробуйте ещё раз.")
		return fmt.Errorf("book_slot refused: %s", env.Error)
	}

	f.finishBooking(ctx, models.DecodeMeetingLink(env))
	return nil
}

// finishBooking applies the post-booking bookkeeping shared by the free and
// paid paths.
func (f *Flow) finishBooking(ctx context.Context, meetingLink string) {
	f.invalidateBookingCaches(ctx)
	f.state.Reset()
	f.state.SetPhase(PhaseBooked)
	f.bridge.Haptic(platform.HapticSuccess)
	msg := "Запись подтверждена!"
	if meetingLink != "" {
		msg = "Запись подтверждена! Ссылка на встречу отправлена в чат."
	}
	f.notifier.Alert(msg)
}

// Bookings loads the user's bookings cache-first.
func (f *Flow) Bookings(ctx context.Context) ([]models.Booking, error) {
	return cache.GetOrFetch(ctx, f.cache, keyBookings, f.cacheTTL,
		func(fctx context.Context, background bool) ([]models.Booking, error) {
			env, err := f.rpc.Call(fctx, "get_user_bookings", nil,
				readOptions(ctxBookings, background))
			if err != nil {
				return nil, err
			}
			if !env.Success {
				return nil, fmt.Errorf("get_user_bookings refused: %s", env.Error)
			}
			return models.DecodeBookings(env)
		})
}

// CancelBooking cancels one booking after explicit user confirmation.
// Nothing is removed locally until the backend confirms: on failure the
// booking list stays as it was.
func (f *Flow) CancelBooking(ctx context.Context, bookingID string) error {
	choice, err := f.bridge.ShowConfirm("Отмена записи",
		"Отменить эту запись?",
		[]platform.Button{{ID: "yes", Text: "Да, отменить"}, {ID: "no", Text: "Нет"}})
	if err != nil || choice != "yes" {
		return nil
	}

	env, err := f.rpc.Call(ctx, "cancel_booking",
		map[string]any{"booking_id": bookingID},
		api.CallOptions{Context: "cancel_booking"})
	if err != nil {
		if errors.Is(err, api.ErrSuperseded) {
			return nil
		}
		return err
	}
	if !env.Success {
		f.notifier.Alert("Не удалось отменить запись. Попробуйте ещё раз.")
		return fmt.Errorf("cancel_booking refused: %s", env.Error)
	}

	f.invalidateBookingCaches(ctx)
	f.bridge.Haptic(platform.HapticSuccess)
	f.notifier.Alert("Запись отменена.")
	return nil
}

// Abandon is called when the user leaves the booking tab: pending loads and
// polls are dropped and the selection is destroyed.
func (f *Flow) Abandon() {
	f.debounce.Cancel()
	f.cancelPoll()
	f.rpc.CancelContext(ctxDates)
	f.rpc.CancelContext(ctxSlots)
	f.state.Reset()
}

// invalidateBookingCaches purges everything a successful booking or
// cancellation makes stale.
func (f *Flow) invalidateBookingCaches(ctx context.Context) {
	for _, clear := range []func() error{
		func() error { return f.cache.ClearPrefix(ctx, "dates_") },
		func() error { return f.cache.ClearPrefix(ctx, "slots_") },
		func() error { return f.cache.Clear(ctx, keyBookings) },
	} {
		if err := clear(); err != nil {
			f.logger.Warn("cache invalidation failed", zap.Error(err))
		}
	}
}
