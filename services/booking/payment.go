package booking

import (
	"context"
	"errors"
	"fmt"

	"slotbook/api"
	"slotbook/models"
	"slotbook/platform"

	"go.uber.org/zap"
)

// startPayment creates a payment record for a paid service, asks the user
// whether to proceed, opens the external payment page and begins watching
// for settlement. create_payment is mutating and is never auto-retried.
func (f *Flow) startPayment(ctx context.Context, svc models.Service, date, slotID, slotTime string) error {
	if !f.guards.acquire(&f.guards.creatingPayment) {
		return nil
	}
	defer f.guards.release(&f.guards.creatingPayment)

	f.bridge.ShowProgress()
	env, err := f.rpc.Call(ctx, "create_payment",
		map[string]any{
			"service_id": svc.ID,
			"slot_id":    slotID,
			"date":       date,
			"time":       slotTime,
			"amount":     svc.Price,
		},
		api.CallOptions{Context: "create_payment"})
	f.bridge.HideProgress()
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
			return ErrSlotTaken
		}
		f.notifier.Alert(ErrPaymentFailed.Message)
		return fmt.Errorf("create_payment refused: %s", env.Error)
	}

	ref, err := models.DecodePayment(env)
	if err != nil {
		f.state.SetPhase(PhaseSlotSelected)
		f.notifier.Alert(ErrPaymentFailed.Message)
		return err
	}

	f.state.SetPhase(PhaseAwaitingPayment)

	// User decision point before the external page opens.
	choice, err := f.bridge.ShowConfirm("Оплата",
		fmt.Sprintf("К оплате %d ₽. Открыть страницу оплаты?", svc.Price),
		[]platform.Button{{ID: "pay", Text: "Оплатить"}, {ID: "cancel", Text: "Отмена"}})
	if err != nil || choice != "pay" {
		f.state.SetPhase(PhaseSlotSelected)
		return nil
	}

	// Baseline the already-settled payments before the page opens, so a
	// pre-existing payment is never mistaken for this one settling.
	baseline := make(map[string]struct{})
	if doc, err := f.docs.FetchClub(ctx); err == nil {
		for _, p := range doc.SettledFor(f.user.ID) {
			baseline[p.PaidAt] = struct{}{}
		}
	} else {
		f.logger.Debug("baseline club fetch failed", zap.Error(err))
	}

	f.bridge.OpenLink(ref.URL)
	f.startPaymentPoll(baseline)
	return nil
}
