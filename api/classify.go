package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind is the user-facing failure category of a request.
type Kind string

const (
	// KindSuperseded marks a deliberate abort (single-flight replacement or
	// caller navigation). It is never shown to the user.
	KindSuperseded   Kind = "superseded"
	KindTimeout      Kind = "timeout"
	KindServerError  Kind = "server_error"
	KindClientError  Kind = "client_error"
	KindNetworkError Kind = "network_error"
	KindUnknown      Kind = "unknown"
)

// ErrSuperseded is returned when a call was cancelled because a newer call
// under the same context replaced it, or the caller itself went away.
var ErrSuperseded = errors.New("request superseded")

// ErrMalformedResponse marks a body that could not be parsed as the expected
// JSON envelope. It is terminal but retried the same way a network failure is.
var ErrMalformedResponse = errors.New("malformed response")

// StatusError carries a non-2xx HTTP status through classification.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// messages maps each kind to its fixed user-facing text.
var messages = map[Kind]string{
	KindTimeout:      "Сервер не отвечает. Попробуйте ещё раз.",
	KindServerError:  "Сервис временно недоступен. Попробуйте позже.",
	KindClientError:  "Не удалось обработать запрос. Обновите приложение и попробуйте снова.",
	KindNetworkError: "Нет соединения. Проверьте интернет и попробуйте снова.",
	KindUnknown:      "Что-то пошло не так. Попробуйте ещё раз.",
}

// Classified is the outcome of mapping a failure to the fixed taxonomy.
type Classified struct {
	Kind    Kind
	Message string
}

// Silent reports whether this failure must never reach the user.
func (c Classified) Silent() bool {
	return c.Kind == KindSuperseded
}

// Classify maps a failed request outcome to a fixed category. Precedence
// matters: a timed-out request whose transport also reports a generic failure
// must come out as Timeout, and a deliberate abort always wins over
// everything else.
func Classify(err error, status int) Classified {
	switch {
	case errors.Is(err, ErrSuperseded) || errors.Is(err, context.Canceled):
		return Classified{Kind: KindSuperseded}
	case isTimeout(err):
		return Classified{Kind: KindTimeout, Message: messages[KindTimeout]}
	case status >= 500:
		return Classified{Kind: KindServerError, Message: messages[KindServerError]}
	case status >= 400:
		return Classified{Kind: KindClientError, Message: messages[KindClientError]}
	case isNetwork(err):
		return Classified{Kind: KindNetworkError, Message: messages[KindNetworkError]}
	default:
		return Classified{Kind: KindUnknown, Message: messages[KindUnknown]}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetwork(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
