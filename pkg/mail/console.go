package mail

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ConsoleSender logs messages instead of delivering them. Used in
// development and as the safe default when no provider is configured.
// Sent messages are retained so tests can inspect them.
type ConsoleSender struct {
	logger *zap.Logger

	mu   sync.Mutex
	sent []Message
}

// NewConsoleSender constructs a console sender.
func NewConsoleSender(logger *zap.Logger) *ConsoleSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleSender{logger: logger}
}

// Send records the message and writes it to the log.
func (s *ConsoleSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()

	recipients := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		recipients = append(recipients, to.Email)
	}
	s.logger.Sugar().Infow("email (console)", "to", recipients, "subject", msg.Subject, "body", msg.Text)
	return nil
}

// Sent returns a copy of all messages recorded so far.
func (s *ConsoleSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}
