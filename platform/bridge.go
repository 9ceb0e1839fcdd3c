package platform

// HapticKind mirrors the host platform's feedback styles.
type HapticKind string

const (
	HapticSuccess HapticKind = "success"
	HapticError   HapticKind = "error"
	HapticLight   HapticKind = "light"
)

// Button describes one choice in a confirmation popup.
type Button struct {
	ID   string
	Text string
}

// Bridge is the narrow interface to the Mini App host chrome. The engine
// only ever talks to the platform through it; rendering stays outside.
type Bridge interface {
	// ShowAlert displays a dismissable message. onClose fires when the user
	// dismisses it; hosts are not guaranteed to invoke it.
	ShowAlert(message string, onClose func())
	// ShowConfirm displays a popup and blocks until a button is chosen,
	// returning its ID.
	ShowConfirm(title, message string, buttons []Button) (string, error)
	Haptic(kind HapticKind)
	OpenLink(url string)
	ShowProgress()
	HideProgress()
}
