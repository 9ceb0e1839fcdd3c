package platform

import (
	"sync"
	"time"

	"slotbook/api"

	"go.uber.org/zap"
)

const defaultGuardTTL = 10 * time.Second

// Notifier funnels user-facing error and info popups through the bridge with
// a popup-already-open guard, so overlapping failures never stack duplicate
// dialogs. A fallback timer force-clears the guard in case the host never
// invokes the dismissal callback; without it one lost callback would lock
// every future popup out.
type Notifier struct {
	bridge   Bridge
	logger   *zap.Logger
	guardTTL time.Duration

	mu         sync.Mutex
	popupOpen  bool
	guardTimer *time.Timer
}

var _ api.Reporter = (*Notifier)(nil)

func NewNotifier(bridge Bridge, logger *zap.Logger) *Notifier {
	return &Notifier{bridge: bridge, logger: logger, guardTTL: defaultGuardTTL}
}

// Report shows a classified request failure. Supersession is a deliberate
// abort and is never shown.
func (n *Notifier) Report(c api.Classified) {
	if c.Silent() {
		return
	}
	n.Alert(c.Message)
}

// Alert shows a message unless a popup is already on screen.
func (n *Notifier) Alert(message string) {
	n.mu.Lock()
	if n.popupOpen {
		n.mu.Unlock()
		n.logger.Debug("popup suppressed, another is open", zap.String("message", message))
		return
	}
	n.popupOpen = true
	n.guardTimer = time.AfterFunc(n.guardTTL, n.release)
	n.mu.Unlock()

	n.bridge.ShowAlert(message, n.release)
}

func (n *Notifier) release() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.popupOpen = false
	if n.guardTimer != nil {
		n.guardTimer.Stop()
		n.guardTimer = nil
	}
}
