package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/homecare-visits/pkg/logging"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{FromEmail: "test@example.com"}, nil))
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "test@example.com"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, "Visitas Domiciliarias", sender.fromName)
}

type fakeSendGrid struct {
	status int
	sent   *mail.SGMailV3
}

func (f *fakeSendGrid) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = email
	return &rest.Response{StatusCode: f.status}, nil
}

func TestSendGridSender_Send(t *testing.T) {
	client := &fakeSendGrid{status: 202}
	sender := &SendGridSender{client: client, fromEmail: "noreply@example.com", fromName: "Visitas", logger: logging.Default()}

	require.NoError(t, sender.Send(context.Background(), EmailMessage{To: "admin@example.com", Subject: "Nueva", Body: "texto"}))
	require.NotNil(t, client.sent)
	assert.Equal(t, "Nueva", client.sent.Subject)

	client.status = 500
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "admin@example.com"}))
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{}
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "recipient@example.com"}))
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	client := &fakeSES{}
	sender := newSESSender(client, SESConfig{FromEmail: "noreply@example.com"}, nil)

	require.NoError(t, sender.Send(context.Background(), EmailMessage{To: "admin@example.com", Subject: "Hola", Body: "texto"}))
	require.NotNil(t, client.input)
	assert.Equal(t, "Visitas Domiciliarias <noreply@example.com>", aws.ToString(client.input.FromEmailAddress))
	assert.Equal(t, []string{"admin@example.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "texto", aws.ToString(client.input.Content.Simple.Body.Text.Data))
	assert.Nil(t, client.input.Content.Simple.Body.Html)

	client.err = errors.New("throttled")
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "admin@example.com"}))
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))
}

type recordingSender struct {
	to   []string
	fail map[string]bool
}

func (r *recordingSender) Send(ctx context.Context, msg EmailMessage) error {
	r.to = append(r.to, msg.To)
	if r.fail[msg.To] {
		return errors.New("bounced")
	}
	return nil
}

func TestAdminAlerter(t *testing.T) {
	assert.Nil(t, NewAdminAlerter(&recordingSender{}, []string{" "}, nil))
	assert.Nil(t, NewAdminAlerter(nil, []string{"a@example.com"}, nil))

	sender := &recordingSender{fail: map[string]bool{"b@example.com": true}}
	alerter := NewAdminAlerter(sender, []string{"a@example.com", " b@example.com"}, nil)
	require.NotNil(t, alerter)

	err := alerter.AlertAdmins(context.Background(), "Nueva solicitud", "cuerpo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b@example.com")
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, sender.to, "a failure does not stop the others")
}

func TestStubEmailSender_Send(t *testing.T) {
	assert.NoError(t, NewStubEmailSender(nil).Send(context.Background(), EmailMessage{To: "x@example.com"}))
}
