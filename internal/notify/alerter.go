package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/homecare-visits/pkg/logging"
)

// AdminAlerter emails every configured admin address.
type AdminAlerter struct {
	sender     EmailSender
	recipients []string
	logger     *logging.Logger
}

// NewAdminAlerter returns nil when there is no sender or no recipient.
func NewAdminAlerter(sender EmailSender, recipients []string, logger *logging.Logger) *AdminAlerter {
	var to []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	if sender == nil || len(to) == 0 {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminAlerter{sender: sender, recipients: to, logger: logger}
}

// AlertAdmins tries every recipient and joins the failures.
func (a *AdminAlerter) AlertAdmins(ctx context.Context, subject, body string) error {
	var errs []error
	for _, to := range a.recipients {
		if err := a.sender.Send(ctx, EmailMessage{To: to, Subject: subject, Body: body}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}
