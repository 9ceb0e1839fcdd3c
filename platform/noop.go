package platform

// Noop is a Bridge that does nothing, for headless runs and tests that do
// not care about chrome interactions. ShowConfirm always picks the first
// button.
type Noop struct{}

var _ Bridge = (*Noop)(nil)

func (Noop) ShowAlert(message string, onClose func()) {
	if onClose != nil {
		onClose()
	}
}

func (Noop) ShowConfirm(title, message string, buttons []Button) (string, error) {
	if len(buttons) == 0 {
		return "", nil
	}
	return buttons[0].ID, nil
}

func (Noop) Haptic(kind HapticKind) {}

func (Noop) OpenLink(url string) {}

func (Noop) ShowProgress() {}

func (Noop) HideProgress() {}
