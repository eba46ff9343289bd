package credential

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-opspilot"
)

// Message is a one time code to be delivered to Email
type Message struct {
	Email     string
	Code      string
	Purpose   string
	ExpiresAt time.Time
}

// Notifier delivers codes to users
type Notifier interface {
	Deliver(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, msg Message) error

func (f NotifierFunc) Deliver(ctx context.Context, msg Message) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// LogNotifier writes codes to a logger, for local development
type LogNotifier struct {
	Logger opspilot.Logger
}

func (n LogNotifier) Deliver(_ context.Context, msg Message) error {
	logger := n.Logger
	if logger == nil {
		logger = opspilot.DefaultLogger()
	}
	logger.Info("verification code issued",
		"email", msg.Email,
		"purpose", msg.Purpose,
		"code", msg.Code,
		"expires_at", msg.ExpiresAt.Format(time.RFC3339),
	)
	return nil
}

// Outbox keeps delivered messages in memory
type Outbox struct {
	mu       sync.Mutex
	messages []Message
}

func (o *Outbox) Deliver(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

// Last returns the last message sent to email
func (o *Outbox) Last(email string) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	email = opspilot.NormalizeEmail(email)
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].Email == email {
			return o.messages[i], true
		}
	}
	return Message{}, false
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}
