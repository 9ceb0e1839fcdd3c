package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"slotbook/api"
	"slotbook/cache"
	"slotbook/models"
	"slotbook/platform"
	"slotbook/utils"

	"go.uber.org/zap"
)

const testUserID int64 = 42

// webhookScript serves scripted envelope responses per action and records
// what the flow actually sent.
type webhookScript struct {
	mu        sync.Mutex
	responses map[string]string
	statuses  map[string]int
	calls     map[string]int
}

func newWebhookScript() *webhookScript {
	return &webhookScript{
		responses: make(map[string]string),
		statuses:  make(map[string]int),
		calls:     make(map[string]int),
	}
}

func (ws *webhookScript) respond(action, body string) {
	ws.mu.Lock()
	ws.responses[action] = body
	delete(ws.statuses, action)
	ws.mu.Unlock()
}

func (ws *webhookScript) respondStatus(action string, status int, body string) {
	ws.mu.Lock()
	ws.responses[action] = body
	ws.statuses[action] = status
	ws.mu.Unlock()
}

func (ws *webhookScript) handler(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	action, _ := body["action"].(string)
	key := action
	if date, ok := body["date"].(string); ok && action == "get_available_slots" {
		key = action + ":" + date
	}

	ws.mu.Lock()
	ws.calls[key]++
	resp := ws.responses[action]
	status := ws.statuses[action]
	ws.mu.Unlock()

	if resp == "" {
		resp = `{"success":false,"error":"unscripted action"}`
	}
	if status != 0 {
		w.WriteHeader(status)
	}
	fmt.Fprint(w, resp)
}

func (ws *webhookScript) callCount(key string) int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.calls[key]
}

// clubScript serves the current club document, swappable mid-test. When hold
// is set, every request after the first blocks on it, letting tests pin a
// poll fetch in flight.
type clubScript struct {
	mu   sync.Mutex
	doc  models.ClubDocument
	hold chan struct{}
	reqs int
}

func (cs *clubScript) set(doc models.ClubDocument) {
	cs.mu.Lock()
	cs.doc = doc
	cs.mu.Unlock()
}

func (cs *clubScript) holdAfterFirst(ch chan struct{}) {
	cs.mu.Lock()
	cs.hold = ch
	cs.mu.Unlock()
}

func (cs *clubScript) requests() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.reqs
}

func (cs *clubScript) handler(w http.ResponseWriter, r *http.Request) {
	cs.mu.Lock()
	cs.reqs++
	n := cs.reqs
	hold := cs.hold
	cs.mu.Unlock()
	if hold != nil && n > 1 {
		<-hold
	}
	cs.mu.Lock()
	doc := cs.doc
	cs.mu.Unlock()
	_ = json.NewEncoder(w).Encode(doc)
}

// scriptedBridge records every host interaction and answers confirmation
// popups from a prepared queue.
type scriptedBridge struct {
	mu          sync.Mutex
	alerts      []string
	answers     []string
	opened      []string
	haptics     []platform.HapticKind
	confirms    int
	confirmHold chan struct{}
}

func (b *scriptedBridge) ShowAlert(message string, onClose func()) {
	b.mu.Lock()
	b.alerts = append(b.alerts, message)
	b.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}

func (b *scriptedBridge) ShowConfirm(title, message string, buttons []platform.Button) (string, error) {
	b.mu.Lock()
	b.confirms++
	hold := b.confirmHold
	var answer string
	var err error
	if len(b.answers) == 0 {
		err = fmt.Errorf("unscripted confirm: %s", title)
	} else {
		answer = b.answers[0]
		b.answers = b.answers[1:]
	}
	b.mu.Unlock()
	if hold != nil {
		<-hold
	}
	return answer, err
}

func (b *scriptedBridge) holdConfirms(ch chan struct{}) {
	b.mu.Lock()
	b.confirmHold = ch
	b.mu.Unlock()
}

func (b *scriptedBridge) confirmCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.confirms
}

func (b *scriptedBridge) Haptic(kind platform.HapticKind) {
	b.mu.Lock()
	b.haptics = append(b.haptics, kind)
	b.mu.Unlock()
}

func (b *scriptedBridge) OpenLink(url string) {
	b.mu.Lock()
	b.opened = append(b.opened, url)
	b.mu.Unlock()
}

func (b *scriptedBridge) ShowProgress() {}
func (b *scriptedBridge) HideProgress() {}

func (b *scriptedBridge) answer(ids ...string) {
	b.mu.Lock()
	b.answers = append(b.answers, ids...)
	b.mu.Unlock()
}

func (b *scriptedBridge) alertCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.alerts)
}

func (b *scriptedBridge) lastAlert() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.alerts) == 0 {
		return ""
	}
	return b.alerts[len(b.alerts)-1]
}

func (b *scriptedBridge) openedLinks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.opened...)
}

type watcherCall struct {
	userID   int64
	baseline []string
	deadline time.Time
}

type fakeWatcher struct {
	mu    sync.Mutex
	calls []watcherCall
}

func (w *fakeWatcher) Enqueue(userID int64, baseline []string, deadline time.Time) error {
	w.mu.Lock()
	w.calls = append(w.calls, watcherCall{userID: userID, baseline: baseline, deadline: deadline})
	w.mu.Unlock()
	return nil
}

func (w *fakeWatcher) enqueued() []watcherCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]watcherCall(nil), w.calls...)
}

func newTestFlow(t *testing.T, ws *webhookScript, cs *clubScript, opts ...func(*FlowConfig)) (*Flow, *scriptedBridge, *fakeWatcher, *cache.Cache) {
	t.Helper()
	webhook := httptest.NewServer(http.HandlerFunc(ws.handler))
	docsSrv := httptest.NewServer(http.HandlerFunc(cs.handler))
	t.Cleanup(webhook.Close)
	t.Cleanup(docsSrv.Close)

	logger := zap.NewNop()
	user := models.UserInfo{ID: testUserID, Name: "Test", InitData: "signed"}
	bridge := &scriptedBridge{}
	notifier := platform.NewNotifier(bridge, logger)
	client := api.NewClient(webhook.URL, user, 600, logger)
	rpc := api.NewCoordinator(client, notifier, time.Second, time.Millisecond, logger)
	docs := api.NewDocsClient(docsSrv.URL+"/slots.json", docsSrv.URL+"/club.json", utils.RealClock(), logger)
	c := cache.New(cache.NewMemoryStore(), utils.RealClock(), logger)
	watcher := &fakeWatcher{}

	cfg := FlowConfig{
		Cache:           c,
		RPC:             rpc,
		Docs:            docs,
		Bridge:          bridge,
		Notifier:        notifier,
		Watcher:         watcher,
		User:            user,
		Logger:          logger,
		CacheTTL:        time.Minute,
		DebounceDelay:   20 * time.Millisecond,
		PollInterval:    15 * time.Millisecond,
		PollMaxAttempts: 200,
		WatcherDeadline: time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewFlow(cfg), bridge, watcher, c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFlow_SelectServiceLoadsDatesCacheFirst(t *testing.T) {
	ws := newWebhookScript()
	ws.respond("get_available_dates", `{"success":true,"dates":["05.03.2026","06.03.2026"]}`)
	flow, _, _, _ := newTestFlow(t, ws, &clubScript{})
	ctx := context.Background()

	if err := flow.SelectService(ctx, "single"); err != nil {
		t.Fatalf("SelectService: %v", err)
	}
	snap := flow.State()
	if snap.Phase != PhaseServiceSelected || len(snap.AvailableDates) != 2 {
		t.Fatalf("after select: phase=%s dates=%v", snap.Phase, snap.AvailableDates)
	}

	// Re-selecting the same service within the TTL serves from cache.
	if err := flow.SelectService(ctx, "single"); err != nil {
		t.Fatalf("SelectService again: %v", err)
	}
	if n := ws.callCount("get_available_dates"); n != 1 {
		t.Fatalf("dates fetched %d times, want 1 (second read cached)", n)
	}
}

func TestFlow_SelectServiceUnknownID(t *testing.T) {
	flow, _, _, _ := newTestFlow(t, newWebhookScript(), &clubScript{})
	if err := flow.SelectService(context.Background(), "massage"); err == nil {
		t.Fatal("unknown service accepted")
	}
}

func TestFlow_DebounceCoalescesRapidDateTaps(t *testing.T) {
	ws := newWebhookScript()
	ws.respond("get_available_dates", `{"success":true,"dates":["05.03.2026","06.03.2026"]}`)
	ws.respond("get_available_slots",
		`{"success":true,"slots":[{"id":"s1","service":"single","date":"06.03.2026","time":"11:00","status":"free"}]}`)
	flow, _, _, _ := newTestFlow(t, ws, &clubScript{})
	ctx := context.Background()

	if err := flow.SelectService(ctx, "single"); err != nil {
		t.Fatalf("SelectService: %v", err)
	}
	if err := flow.SelectDate(ctx, "05.03.2026"); err != nil {
		t.Fatalf("SelectDate: %v", err)
	}
	if err := flow.SelectDate(ctx, "06.03.2026"); err != nil {
		t.Fatalf("SelectDate: %v", err)
	}

	waitFor(t, "slots for the final date", func() bool {
		return len(flow.State().AvailableSlots) == 1
	})

	if n := ws.callCount("get_available_slots:05.03.2026"); n != 0 {
		t.Fatalf("abandoned date fetched %d times, want 0", n)
	}
	if n := ws.callCount("get_available_slots:06.03.2026"); n != 1 {
		t.Fatalf("final date fetched %d times, want 1", n)
	}
	if got := flow.State().AvailableSlots[0].Time; got != "11:00" {
		t.Fatalf("loaded slot time = %q", got)
	}
}

func TestFlow_BookFreeServiceEndToEnd(t *testing.T) {
	ws := newWebhookScript()
	ws.respond("get_available_dates", `{"success":true,"dates":["05.03.2026"]}`)
	ws.respond("get_available_slots",
		`{"success":true,"slots":[{"id":"s1","service":"diagnostic","date":"05.03.2026","time":"14:00","status":"free"}]}`)
	ws.respond("book_slot", `{"success":true,"zoom_link":"https://zoom.example/j/1"}`)
	flow, bridge, _, c := newTestFlow(t, ws, &clubScript{})
	ctx := context.Background()

	if err := flow.SelectService(ctx, "diagnostic"); err != nil {
		t.Fatalf("SelectService: %v", err)
	}
	if err := flow.SelectDate(ctx, "05.03.2026"); err != nil {
		t.Fatalf("SelectDate: %v", err)
	}
	waitFor(t, "slots loaded", func() bool { return len(flow.State().AvailableSlots) == 1 })
	if err := flow.SelectSlot("s1"); err != nil {
		t.Fatalf("SelectSlot: %v", err)
	}

	bridge.answer("ok")
	if err := flow.Confirm(ctx); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	snap := flow.State()
	if snap.Phase != PhaseBooked {
		t.Fatalf("phase = %s, want %s", snap.Phase, PhaseBooked)
	}
	if snap.HasService || snap.SelectedDate != "" {
		t.Fatal("selection survived a successful booking")
	}
	if got := bridge.lastAlert(); got != "Запись подтверждена! Ссылка на встречу отправлена в чат." {
		t.Fatalf("confirmation alert = %q", got)
	}

	// Availability and bookings caches must be invalidated.
	var dates []models.AvailableDate
	if _, ok := c.Get(ctx, "dates_diagnostic", &dates); ok {
		t.Fatal("dates cache survived a booking")
	}
	var slots []models.Slot
	if _, ok := c.Get(ctx, "slots_diagnostic_05.03.2026", &slots); ok {
		t.Fatal("slots cache survived a booking")
	}
}

func TestFlow_ConfirmDeclinedIsNoop(t *testing.T) {
	ws := newWebhookScript()
	ws.respond("get_available_dates", `{"success":true,"dates":["05.03.2026"]}`)
	ws.respond("get_available_slots",
		`{"success":true,"slots":[{"id":"s1","service":"diagnostic","date":"05.03.2026","time":"14:00","status":"free"}]}`)
	flow, bridge, _, _ := newTestFlow(t, ws, &clubScript{})
	ctx := context.Background()

	_ = flow.SelectService(ctx, "diagnostic")
	_ = flow.SelectDate(ctx, "05.03.2026")
	waitFor(t, "slots loaded", func() bool { return len(flow.State().AvailableSlots) == 1 })
	_ = flow.SelectSlot("s1")

	bridge.answer("cancel")
	if err := flow.Confirm(ctx); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if n := ws.callCount("book_slot"); n != 0 {
		t.Fatalf("book_slot issued %d times after decline", n)
	}
	if flow.State().Phase == PhaseBooked {
		t.Fatal("declined confirmation still booked")
	}
}

func TestFlow_TakenSlotGetsDistinctMessage(t *testing.T) {
	ws := newWebhookScript()
	ws.respond("get_available_dates", `{"success":true,"dates":["05.03.2026"]}`)
	ws.respond("get_available_slots",
		`{"success":true,"slots":[{"id":"s1","service":"diagnostic","date":"05.03.2026","time":"14:00","status":"free"}]}`)
	ws.respond("book_slot", `{"success":false,"error":"slot_already_booked"}`)
	flow, bridge, _, c := newTestFlow(t, ws, &clubScript{})
	ctx := context.Background()

	_ = flow.SelectService(ctx, "diagnostic")
	_ = flow.SelectDate(ctx, "05.03.2026")
	waitFor(t, "slots loaded", func() bool { return len(flow.State().AvailableSlots) == 1 })
	_ = flow.SelectSlot("s1")

	bridge.answer("ok")
	err := flow.Confirm(ctx)
	if err != ErrSlotTaken {
		t.Fatalf("Confirm error = %v, want ErrSlotTaken", err)
	}
	if got := bridge.lastAlert(); got != ErrSlotTaken.Message {
		t.Fatalf("alert = %q, want the slot-taken message, not the generic one", got)
	}
	if flow.State().Phase != PhaseSlotSelected {
		t.Fatalf("phase = %s, want back at %s", flow.State().Phase, PhaseSlotSelected)
	}
	// The stale slot list must be gone so the next open refetches.
	var slots []models.Slot
	if _, ok := c.Get(ctx, "slots_diagnostic_05.03.2026", &slots); ok {
		t.Fatal("slots cache survived a slot conflict")
	}
}

func TestFlow_PaidBookingSettlesOnNewPaymentOnly(t *testing.T) {
	ws := newWebhookScript()
	ws.respond("get_available_dates", `{"success":true,"dates":["05.03.2026"]}`)
	ws.respond("get_available_slots",
		`{"success":true,"slots":[{"id":"s1","service":"single","date":"05.03.2026","time":"14:00","status":"free"},`+
			`{"id":"s2","service":"single","date":"05.03.2026","time":"16:00","status":"free"}]}`)
	ws.respond("create_payment", `{"success":true,"payment_id":"p1","payment_url":"https://pay.example/p1"}`)

	// The user already has one settled payment and another user has theirs;
	// neither may count as this payment settling.
	cs := &clubScript{}
	cs.set(models.ClubDocument{Payments: []models.ClubPayment{
		{UserID: testUserID, Status: models.PaymentSucceeded, PaidAt: "2026-01-10T10:00:00Z"},
		{UserID: 7, Status: models.PaymentSucceeded, PaidAt: "2026-03-05T09:00:00Z"},
	}})

	flow, bridge, _, c := newTestFlow(t, ws, cs)
	ctx := context.Background()

	_ = flow.SelectService(ctx, "single")
	_ = flow.SelectDate(ctx, "05.03.2026")
	waitFor(t, "slots loaded", func() bool { return len(flow.State().AvailableSlots) == 2 })
	_ = flow.SelectSlot("s1")

	bridge.answer("ok", "pay")
	if err := flow.Confirm(ctx); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	if links := bridge.openedLinks(); len(links) != 1 || links[0] != "https://pay.example/p1" {
		t.Fatalf("opened links = %v", links)
	}
	if got := flow.State().Phase; got != PhasePollingPayment {
		t.Fatalf("phase after opening payment = %s, want %s", got, PhasePollingPayment)
	}

	// Give the poll a few cycles against the unchanged document; the
	// pre-existing payments must not settle anything.
	time.Sleep(60 * time.Millisecond)
	if got := flow.State().Phase; got != PhasePollingPayment {
		t.Fatalf("settled on baseline payments, phase = %s", got)
	}

	cs.set(models.ClubDocument{Payments: []models.ClubPayment{
		{UserID: testUserID, Status: models.PaymentSucceeded, PaidAt: "2026-01-10T10:00:00Z"},
		{UserID: 7, Status: models.PaymentSucceeded, PaidAt: "2026-03-05T09:00:00Z"},
		{UserID: testUserID, Status: models.PaymentSucceeded, PaidAt: "2026-03-05T12:00:00Z"},
	}, MeetingLink: "https://zoom.example/club"})

	waitFor(t, "settlement", func() bool { return flow.State().Phase == PhaseSettled })

	if got := bridge.lastAlert(); got != "Оплата получена! Запись подтверждена." {
		t.Fatalf("settlement alert = %q", got)
	}
	var dates []models.AvailableDate
	if _, ok := c.Get(ctx, "dates_single", &dates); ok {
		t.Fatal("dates cache survived settlement")
	}
	var doc models.ClubDocument
	if _, ok := c.Get(ctx, "club_payments", &doc); !ok {
		t.Fatal("settled club document was not cached")
	}
	if doc.MeetingLink != "https://zoom.example/club" {
		t.Fatalf("cached club document = %+v", doc)
	}
}

func TestFlow_PollExhaustionHandsOffToWatcher(t *testing.T) {
	ws := newWebhookScript()
	ws.respond("get_available_dates", `{"success":true,"dates":["05.03.2026"]}`)
	ws.respond("get_available_slots",
		`{"success":true,"slots":[{"id":"s1","service":"single","date":"05.03.2026","time":"14:00","status":"free"}]}`)
	ws.respond("create_payment", `{"success":true,"payment_id":"p1","payment_url":"https://pay.example/p1"}`)

	// Only another user's payment settles during the poll window.
	cs := &clubScript{}
	cs.set(models.ClubDocument{Payments: []models.ClubPayment{
		{UserID: 7, Status: models.PaymentSucceeded, PaidAt: "2026-03-05T09:00:00Z"},
	}})

	flow, bridge, watcher, _ := newTestFlow(t, ws, cs, func(cfg *FlowConfig) {
		cfg.PollMaxAttempts = 3
	})
	ctx := context.Background()

	_ = flow.SelectService(ctx, "single")
	_ = flow.SelectDate(ctx, "05.03.2026")
	waitFor(t, "slots loaded", func() bool { return len(flow.State().AvailableSlots) == 1 })
	_ = flow.SelectSlot("s1")

	bridge.answer("ok", "pay")
	if err := flow.Confirm(ctx); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	waitFor(t, "poll exhaustion", func() bool { return flow.State().Phase == PhasePollTimedOut })

	calls := watcher.enqueued()
	if len(calls) != 1 {
		t.Fatalf("watcher enqueued %d times, want 1", len(calls))
	}
	if calls[0].userID != testUserID {
		t.Fatalf("watcher enqueued for user %d", calls[0].userID)
	}
	if len(calls[0].baseline) != 0 {
		t.Fatalf("baseline should not include other users' payments: %v", calls[0].baseline)
	}
	if until := time.Until(calls[0].deadline); until < 30*time.Second || until > 2*time.Minute {
		t.Fatalf("watcher deadline %v from now", until)
	}
}

func TestFlow_BookingsListCacheFirst(t *testing.T) {
	ws := newWebhookScript()
	ws.respond("get_user_bookings",
		`{"success":true,"bookings":[{"id":"b1","service":"single","date":"05.03.2026","time":"14:00"}]}`)
	flow, _, _, _ := newTestFlow(t, ws, &clubScript{})
	ctx := context.Background()

	got, err := flow.Bookings(ctx)
	if err != nil {
		t.Fatalf("Bookings: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b1" {
		t.Fatalf("bookings = %+v", got)
	}

	if _, err := flow.Bookings(ctx); err != nil {
		t.Fatalf("Bookings again: %v", err)
	}
	if n := ws.callCount("get_user_bookings"); n != 1 {
		t.Fatalf("bookings fetched %d times, want 1", n)
	}
}

func TestFlow_CancelBookingDeclinedIssuesNoRPC(t *testing.T) {
	ws := newWebhookScript()
	flow, bridge, _, _ := newTestFlow(t, ws, &clubScript{})

	bridge.answer("no")
	if err := flow.CancelBooking(context.Background(), "b1"); err != nil {
		t.Fatalf("CancelBooking: %v", err)
	}
	if n := ws.callCount("cancel_booking"); n != 0 {
		t.Fatalf("cancel_booking issued %d times after decline", n)
	}
}

func TestFlow_CancelBookingFailureLeavesListIntact(t *testing.T) {
	ws := newWebhookScript()
	ws.respond("cancel_booking", `{"success":false,"error":"booking not found"}`)
	flow, bridge, _, c := newTestFlow(t, ws, &clubScript{})
	ctx := context.Background()

	seeded := []models.Booking{{ID: "b1", Service: "single", Date: "05.03.2026", Time: "14:00"}}
	if err := c.Set(ctx, "user_bookings", seeded, time.Minute); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	bridge.answer("yes")
	if err := flow.CancelBooking(ctx, "b1"); err == nil {
		t.Fatal("refused cancellation reported as success")
	}
	if got := bridge.lastAlert(); got != "Не удалось отменить запись. Попробуйте ещё раз." {
		t.Fatalf("alert = %q", got)
	}

	var kept []models.Booking
	if _, ok := c.Get(ctx, "user_bookings", &kept); !ok || len(kept) != 1 {
		t.Fatal("bookings cache was mutated on a failed cancellation")
	}
}

func TestFlow_AbandonDropsPendingSlotLoad(t *testing.T) {
	ws := newWebhookScript()
	ws.respond("get_available_dates", `{"success":true,"dates":["05.03.2026"]}`)
	flow, _, _, _ := newTestFlow(t, ws, &clubScript{})
	ctx := context.Background()

	_ = flow.SelectService(ctx, "single")
	_ = flow.SelectDate(ctx, "05.03.2026")
	flow.Abandon()

	time.Sleep(60 * time.Millisecond)
	if n := ws.callCount("get_available_slots:05.03.2026"); n != 0 {
		t.Fatalf("slot load ran %d times after abandon", n)
	}
	if flow.State().Phase != PhaseIdle {
		t.Fatalf("phase after abandon = %s", flow.State().Phase)
	}
}

func TestFlow_BackgroundRefreshFailureStaysSilent(t *testing.T) {
	ws := newWebhookScript()
	ws.respondStatus("get_available_dates", 500, `{"success":false}`)
	flow, bridge, _, c := newTestFlow(t, ws, &clubScript{})
	ctx := context.Background()

	// An expired entry forces the stale-serve-plus-revalidate path.
	seeded := []models.AvailableDate{{Date: "05.03.2026", SlotsCount: 2}}
	if err := c.Set(ctx, "dates_single", seeded, time.Millisecond); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := flow.SelectService(ctx, "single"); err != nil {
		t.Fatalf("SelectService on a stale entry: %v", err)
	}
	if got := flow.State().AvailableDates; len(got) != 1 || got[0].Date != "05.03.2026" {
		t.Fatalf("stale dates not served: %v", got)
	}

	// Let the background refresh hit the failing backend (plus its retry).
	waitFor(t, "background refresh attempt", func() bool {
		return ws.callCount("get_available_dates") >= 1
	})
	time.Sleep(50 * time.Millisecond)

	if n := bridge.alertCount(); n != 0 {
		t.Fatalf("background refresh failure surfaced %d popup(s): %q", n, bridge.lastAlert())
	}
}

func TestFlow_AbandonDuringPollFetchStopsSession(t *testing.T) {
	ws := newWebhookScript()
	ws.respond("get_available_dates", `{"success":true,"dates":["05.03.2026"]}`)
	ws.respond("get_available_slots",
		`{"success":true,"slots":[{"id":"s1","service":"single","date":"05.03.2026","time":"14:00","status":"free"}]}`)
	ws.respond("create_payment", `{"success":true,"payment_id":"p1","payment_url":"https://pay.example/p1"}`)

	cs := &clubScript{}
	hold := make(chan struct{})
	cs.holdAfterFirst(hold)

	flow, bridge, watcher, _ := newTestFlow(t, ws, cs)
	ctx := context.Background()

	_ = flow.SelectService(ctx, "single")
	_ = flow.SelectDate(ctx, "05.03.2026")
	waitFor(t, "slots loaded", func() bool { return len(flow.State().AvailableSlots) == 1 })
	_ = flow.SelectSlot("s1")

	bridge.answer("ok", "pay")
	if err := flow.Confirm(ctx); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	// The baseline fetch was request 1; wait until a poll fetch is pinned
	// in flight, then navigate away while it is still executing.
	waitFor(t, "poll fetch in flight", func() bool { return cs.requests() >= 2 })
	flow.Abandon()

	// A settlement lands while the abandoned cycle is still blocked.
	cs.set(models.ClubDocument{Payments: []models.ClubPayment{
		{UserID: testUserID, Status: models.PaymentSucceeded, PaidAt: "2026-03-05T12:00:00Z"},
	}})
	close(hold)

	// Several poll intervals pass; the abandoned session must not revive.
	time.Sleep(80 * time.Millisecond)
	if got := flow.State().Phase; got != PhaseIdle {
		t.Fatalf("phase after abandon = %s, want %s", got, PhaseIdle)
	}
	if n := bridge.alertCount(); n != 0 {
		t.Fatalf("abandoned poll surfaced %d popup(s): %q", n, bridge.lastAlert())
	}
	if calls := watcher.enqueued(); len(calls) != 0 {
		t.Fatalf("abandoned poll enqueued the watcher: %+v", calls)
	}
	if n := cs.requests(); n != 2 {
		t.Fatalf("abandoned poll kept fetching, %d document requests", n)
	}
}

func TestFlow_SecondConfirmWhilePopupOpenIsNoop(t *testing.T) {
	ws := newWebhookScript()
	ws.respond("get_available_dates", `{"success":true,"dates":["05.03.2026"]}`)
	ws.respond("get_available_slots",
		`{"success":true,"slots":[{"id":"s1","service":"diagnostic","date":"05.03.2026","time":"14:00","status":"free"}]}`)
	ws.respond("book_slot", `{"success":true}`)
	flow, bridge, _, _ := newTestFlow(t, ws, &clubScript{})
	ctx := context.Background()

	_ = flow.SelectService(ctx, "diagnostic")
	_ = flow.SelectDate(ctx, "05.03.2026")
	waitFor(t, "slots loaded", func() bool { return len(flow.State().AvailableSlots) == 1 })
	_ = flow.SelectSlot("s1")

	hold := make(chan struct{})
	bridge.holdConfirms(hold)
	bridge.answer("ok")

	firstDone := make(chan error, 1)
	go func() { firstDone <- flow.Confirm(ctx) }()
	waitFor(t, "confirmation popup", func() bool { return bridge.confirmCount() == 1 })

	// A second confirm while the popup is still on screen is a no-op.
	if err := flow.Confirm(ctx); err != nil {
		t.Fatalf("re-entrant Confirm: %v", err)
	}
	if n := bridge.confirmCount(); n != 1 {
		t.Fatalf("%d confirmation popups shown, want 1", n)
	}

	close(hold)
	if err := <-firstDone; err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if n := ws.callCount("book_slot"); n != 1 {
		t.Fatalf("book_slot issued %d times", n)
	}
	if flow.State().Phase != PhaseBooked {
		t.Fatalf("phase = %s", flow.State().Phase)
	}
}

func TestFlow_GuardsReleaseAfterFailedBooking(t *testing.T) {
	ws := newWebhookScript()
	ws.respond("get_available_dates", `{"success":true,"dates":["05.03.2026"]}`)
	ws.respond("get_available_slots",
		`{"success":true,"slots":[{"id":"s1","service":"diagnostic","date":"05.03.2026","time":"14:00","status":"free"}]}`)
	ws.respond("book_slot", `{"success":false,"error":"backend exploded"}`)
	flow, bridge, _, _ := newTestFlow(t, ws, &clubScript{})
	ctx := context.Background()

	_ = flow.SelectService(ctx, "diagnostic")
	_ = flow.SelectDate(ctx, "05.03.2026")
	waitFor(t, "slots loaded", func() bool { return len(flow.State().AvailableSlots) == 1 })
	_ = flow.SelectSlot("s1")

	bridge.answer("ok")
	if err := flow.Confirm(ctx); err == nil {
		t.Fatal("failed booking reported as success")
	}
	if flow.State().Phase != PhaseSlotSelected {
		t.Fatalf("phase after failure = %s", flow.State().Phase)
	}

	// The guards must be released: a retry confirm goes through.
	ws.respond("book_slot", `{"success":true}`)
	bridge.answer("ok")
	if err := flow.Confirm(ctx); err != nil {
		t.Fatalf("Confirm after failure locked out: %v", err)
	}
	if flow.State().Phase != PhaseBooked {
		t.Fatalf("phase after retry = %s", flow.State().Phase)
	}
	if n := ws.callCount("book_slot"); n != 2 {
		t.Fatalf("book_slot issued %d times, want 2", n)
	}
}

func TestFlow_GuardsReleaseAfterFailedPaymentCreation(t *testing.T) {
	ws := newWebhookScript()
	ws.respond("get_available_dates", `{"success":true,"dates":["05.03.2026"]}`)
	ws.respond("get_available_slots",
		`{"success":true,"slots":[{"id":"s1","service":"single","date":"05.03.2026","time":"14:00","status":"free"}]}`)
	ws.respond("create_payment", `{"success":false,"error":"gateway down"}`)
	flow, bridge, _, _ := newTestFlow(t, ws, &clubScript{})
	ctx := context.Background()

	_ = flow.SelectService(ctx, "single")
	_ = flow.SelectDate(ctx, "05.03.2026")
	waitFor(t, "slots loaded", func() bool { return len(flow.State().AvailableSlots) == 1 })
	_ = flow.SelectSlot("s1")

	bridge.answer("ok")
	if err := flow.Confirm(ctx); err == nil {
		t.Fatal("failed payment creation reported as success")
	}
	if got := bridge.lastAlert(); got != ErrPaymentFailed.Message {
		t.Fatalf("alert = %q", got)
	}
	if flow.State().Phase != PhaseSlotSelected {
		t.Fatalf("phase after failure = %s", flow.State().Phase)
	}

	ws.respond("create_payment", `{"success":true,"payment_id":"p1","payment_url":"https://pay.example/p1"}`)
	bridge.answer("ok", "pay")
	if err := flow.Confirm(ctx); err != nil {
		t.Fatalf("Confirm after failure locked out: %v", err)
	}
	if links := bridge.openedLinks(); len(links) != 1 {
		t.Fatalf("opened links = %v", links)
	}
	if flow.State().Phase != PhasePollingPayment {
		t.Fatalf("phase after retry = %s", flow.State().Phase)
	}
	flow.Abandon()
}
