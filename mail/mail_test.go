package mail

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"
)

func verifyMail() *Mail {
	return New().
		WithSender("noreply@example.com").
		WithReceivers("user@example.com").
		WithSubject("Account verification").
		WithText("Verify code: abc\n")
}

func TestMailValidate(t *testing.T) {
	assert.NoError(t, verifyMail().Validate())
	assert.ErrorIs(t, New().WithReceivers("a@example.com").Validate(), ErrNoSender)
	assert.ErrorIs(t, New().WithSender("a@example.com").Validate(), ErrNoReceivers)
	assert.Error(t, New().WithSender("a@example.com").WithReceivers("nope").Validate())
}

func TestMailBytes(t *testing.T) {
	m := verifyMail()
	m.AddReceiver("other@example.com")

	out, err := m.Bytes(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	raw := string(out)
	assert.Contains(t, raw, "Subject: Account verification\r\n")
	assert.Contains(t, raw, "Date: Tue, 02 Jan 2024 03:04:05 +0000\r\n")
	assert.Contains(t, raw, "<user@example.com>, <other@example.com>")
	assert.Contains(t, raw, "Content-Type: text/plain; charset=UTF-8")
	assert.Contains(t, raw, "Verify code: abc")

	_, err = New().Bytes(time.Now())
	assert.ErrorIs(t, err, ErrNoSender)
}

type captureClient struct {
	msgs []*gomail.Msg
	err  error
}

func (c *captureClient) DialAndSendWithContext(_ context.Context, messages ...*gomail.Msg) error {
	c.msgs = append(c.msgs, messages...)
	return c.err
}

func TestNewSMTPMailer(t *testing.T) {
	mailer, err := NewSMTPMailer("smtp.example.com:587", "user", "pass")
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", mailer.Address)

	_, err = NewSMTPMailer("smtp.example.com", "", "")
	assert.Error(t, err)
	_, err = NewSMTPMailer("smtp.example.com:smtp", "", "")
	assert.Error(t, err)
}

func TestSMTPMailer(t *testing.T) {
	mailer, err := NewSMTPMailer("smtp.example.com:587", "user", "pass")
	require.NoError(t, err)
	client := &captureClient{}
	mailer.client = client

	require.NoError(t, mailer.Send(context.Background(), verifyMail()))
	require.Len(t, client.msgs, 1)

	sender, err := client.msgs[0].GetSender(false)
	require.NoError(t, err)
	assert.Equal(t, "noreply@example.com", sender)
	recipients, err := client.msgs[0].GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"user@example.com"}, recipients)
	assert.Equal(t, []string{"Account verification"}, client.msgs[0].GetGenHeader(gomail.HeaderSubject))
}

func TestSMTPMailerErrors(t *testing.T) {
	mailer, err := NewSMTPMailer("smtp.example.com:587", "", "")
	require.NoError(t, err)
	client := &captureClient{err: errors.New("connection refused")}
	mailer.client = client

	assert.ErrorIs(t, mailer.Send(context.Background(), New()), ErrNoSender)
	assert.Empty(t, client.msgs)

	err = mailer.Send(context.Background(), verifyMail())
	assert.ErrorContains(t, err, "connection refused")
}

func TestAPIMailer(t *testing.T) {
	var payload Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	mailer := NewAPIMailer(server.URL, "secret")
	require.NoError(t, mailer.Send(context.Background(), verifyMail()))

	assert.Equal(t, "Account verification", payload.Message.Subject)
	require.Len(t, payload.Message.ToRecipients, 1)
	assert.Equal(t, "user@example.com", payload.Message.ToRecipients[0].EmailAddress.Address)
	assert.Equal(t, "Verify code: abc\n", payload.Message.Body.Content)
}

func TestAPIMailerRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	err := NewAPIMailer(server.URL, "wrong").Send(context.Background(), verifyMail())
	assert.ErrorIs(t, err, ErrMailRejected)
}

func TestLogMailer(t *testing.T) {
	var out strings.Builder
	mailer := NewLogMailer(slog.New(slog.NewTextHandler(&out, nil)))

	require.NoError(t, mailer.Send(context.Background(), verifyMail()))
	assert.Contains(t, out.String(), "subject=\"Account verification\"")
	assert.Error(t, mailer.Send(context.Background(), New()))
}
