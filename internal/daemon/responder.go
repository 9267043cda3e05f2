package daemon

import (
	"context"

	"github.com/avila/reserva/pkg/store"
)

// fallbackResponder stands in when no orchestration backend is wired. The
// booking agent runs as a separate service; until it is attached behind
// the gateway.Responder seam, callers get an honest unavailability answer
// instead of an error.
type fallbackResponder struct{}

func (fallbackResponder) Reply(_ context.Context, _ string, _ []store.Message) (string, error) {
	return "The booking assistant is currently unavailable. Please try again later.", nil
}
