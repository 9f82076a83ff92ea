package mailer

import (
	"context"

	"github.com/google/uuid"
)

// Mock records nothing and always succeeds unless Err is set. Used by
// the dev profile and the seeder.
type Mock struct {
	Err error
}

func (m *Mock) Dispatch(_ context.Context, _ OutboundEmail) (*Result, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &Result{PreviewURL: "mock://preview/" + uuid.NewString()}, nil
}

var _ Mailer = (*Mock)(nil)
