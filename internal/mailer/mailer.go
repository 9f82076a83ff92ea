package mailer

import (
	"context"

	"github.com/mailshed/campaign-backend/internal/model"
)

// OutboundEmail is a fully personalized message ready for transport.
type OutboundEmail struct {
	To          string
	Subject     string
	HTMLBody    string
	FromName    string
	FromEmail   string
	Attachments []model.Attachment
}

// Result is what a transport reports back on success.
type Result struct {
	// PreviewURL is an optional delivery-preview reference.
	PreviewURL string
}

// Mailer hands a message to the outbound transport. Implementations
// are fallible and potentially slow; the caller decides retry policy.
type Mailer interface {
	Dispatch(ctx context.Context, msg OutboundEmail) (*Result, error)
}
