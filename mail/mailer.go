package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	gomail "github.com/wneessen/go-mail"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrMailRejected = errors.New("mail: rejected by provider")

type Mailer interface {
	Send(ctx context.Context, mails ...*Mail) error
}

type smtpClient interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SMTPMailer delivers through one SMTP relay. STARTTLS is used when the relay
// offers it and PLAIN auth when a username is configured.
type SMTPMailer struct {
	Address string

	client smtpClient
}

func NewSMTPMailer(address, username, password string) (*SMTPMailer, error) {
	host, portValue, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("mail: smtp address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return nil, fmt.Errorf("mail: smtp port %q: %w", portValue, err)
	}

	opts := []gomail.Option{
		gomail.WithPort(port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(10 * time.Second),
	}
	if username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(username),
			gomail.WithPassword(password),
		)
	}
	client, err := gomail.NewClient(host, opts...)
	if err != nil {
		return nil, err
	}
	return &SMTPMailer{Address: address, client: client}, nil
}

func (mailer *SMTPMailer) Send(ctx context.Context, mails ...*Mail) error {
	if len(mails) == 0 {
		return nil
	}
	msgs := make([]*gomail.Msg, 0, len(mails))
	for _, m := range mails {
		msg, err := m.Msg(time.Now())
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := mailer.client.DialAndSendWithContext(ctx, msgs...); err != nil {
		return errors.Join(errors.New("sending mail failed"), err)
	}
	return nil
}

type Payload struct {
	Message         Message `json:"message"`
	SaveToSentItems bool    `json:"saveToSentItems"`
}

type Message struct {
	Subject      string        `json:"subject"`
	Body         Body          `json:"body"`
	From         *ToRecipient  `json:"from,omitempty"`
	ToRecipients []ToRecipient `json:"toRecipients"`
}

type Body struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type ToRecipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

type EmailAddress struct {
	Address string `json:"address"`
}

// APIMailer posts each mail as JSON to a sendMail style endpoint with a
// bearer token. Outbound calls are traced.
type APIMailer struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewAPIMailer(url, token string) *APIMailer {
	return &APIMailer{
		URL:   url,
		Token: token,
		Client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (mailer *APIMailer) Send(ctx context.Context, mails ...*Mail) error {
	for _, m := range mails {
		if err := m.Validate(); err != nil {
			return err
		}
		if err := mailer.send(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (mailer *APIMailer) send(ctx context.Context, m *Mail) error {
	recipients := make([]ToRecipient, len(m.To()))
	for i, address := range m.To() {
		recipients[i] = ToRecipient{EmailAddress: EmailAddress{Address: address}}
	}

	payload, err := json.Marshal(Payload{
		Message: Message{
			Subject: m.Subject(),
			Body: Body{
				ContentType: "Text",
				Content:     string(m.Message()),
			},
			From:         &ToRecipient{EmailAddress: EmailAddress{Address: m.From()}},
			ToRecipients: recipients,
		},
		SaveToSentItems: false,
	})
	if err != nil {
		return errors.Join(errors.New("payload marshal failed"), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mailer.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", mailer.Token))
	req.Header.Set("Content-Type", "application/json")

	resp, err := mailer.Client.Do(req)
	if err != nil {
		return errors.Join(errors.New("sending mail failed"), err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("resp.Body.Close error", "error", err)
		}
	}()

	if _, err = io.Copy(io.Discard, resp.Body); err != nil {
		return errors.Join(errors.New("reading response body failed"), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrMailRejected, resp.StatusCode)
	}

	return nil
}

// LogMailer writes mails to a logger instead of delivering them. It is the
// development default.
type LogMailer struct {
	Logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{Logger: logger}
}

func (mailer *LogMailer) Send(ctx context.Context, mails ...*Mail) error {
	for _, m := range mails {
		if err := m.Validate(); err != nil {
			return err
		}
		mailer.Logger.InfoContext(ctx, "mail",
			slog.String("from", m.From()),
			slog.Any("to", m.To()),
			slog.String("subject", m.Subject()),
			slog.String("body", string(m.Message())),
		)
	}
	return nil
}
