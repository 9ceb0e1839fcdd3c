package models

// UserInfo identifies the current Telegram user. InitData is the opaque
// signed blob from the Mini App host, passed through to the backend verbatim.
type UserInfo struct {
	ID       int64  `json:"user_id"`
	Name     string `json:"user_name"`
	Username string `json:"username,omitempty"`
	InitData string `json:"init_data"`
}
