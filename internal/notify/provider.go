// Package notify delivers alert notifications to external channels.
package notify

import (
	"context"

	"github.com/darshan-rambhia/nab/internal/model"
)

// MailMetadataKey is the notification metadata key carrying the host's
// alert mail address.
const MailMetadataKey = "alerts_mail_address"

// Provider sends notifications through a specific channel.
type Provider interface {
	Name() string
	Send(ctx context.Context, n model.Notification) error
}
