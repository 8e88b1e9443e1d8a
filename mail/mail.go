package mail

import (
	"bytes"
	"errors"
	"fmt"
	"net/mail"
	"time"

	gomail "github.com/wneessen/go-mail"
)

var (
	ErrNoSender    = errors.New("mail: no sender")
	ErrNoReceivers = errors.New("mail: no receivers")
)

// Mail is one plain text message.
type Mail struct {
	sender    string
	receivers []string
	subject   string
	body      []byte
}

func New() *Mail {
	return &Mail{}
}

func (m *Mail) From() string {
	return m.sender
}

func (m *Mail) To() []string {
	return m.receivers
}

func (m *Mail) Subject() string {
	return m.subject
}

func (m *Mail) Message() []byte {
	return m.body
}

func (m *Mail) WithSender(sender string) *Mail {
	m.sender = sender
	return m
}

func (m *Mail) WithReceivers(receivers ...string) *Mail {
	m.receivers = receivers
	return m
}

func (m *Mail) WithSubject(subject string) *Mail {
	m.subject = subject
	return m
}

func (m *Mail) WithText(text string) *Mail {
	m.body = []byte(text)
	return m
}

func (m *Mail) AddReceiver(receiver string) {
	m.receivers = append(m.receivers, receiver)
}

// Validate checks every address parses.
func (m *Mail) Validate() error {
	if m.sender == "" {
		return ErrNoSender
	}
	if len(m.receivers) == 0 {
		return ErrNoReceivers
	}
	for _, address := range append([]string{m.sender}, m.receivers...) {
		if _, err := mail.ParseAddress(address); err != nil {
			return fmt.Errorf("mail: address %q: %w", address, err)
		}
	}
	return nil
}

// Msg builds the plain text message handed to the SMTP client.
func (m *Mail) Msg(now time.Time) (*gomail.Msg, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	msg := gomail.NewMsg(gomail.WithCharset(gomail.CharsetUTF8), gomail.WithEncoding(gomail.NoEncoding))
	if err := msg.From(m.sender); err != nil {
		return nil, err
	}
	if err := msg.To(m.receivers...); err != nil {
		return nil, err
	}
	msg.Subject(m.subject)
	msg.SetDateWithValue(now)
	msg.SetBodyString(gomail.TypeTextPlain, string(m.body))
	return msg, nil
}

// Bytes renders the message in Internet Message Format, as it is written
// on the SMTP DATA command.
func (m *Mail) Bytes(now time.Time) ([]byte, error) {
	msg, err := m.Msg(now)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	if _, err := msg.WriteTo(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
