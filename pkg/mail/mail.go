package mail

import "context"

// Address identifies a mail participant.
type Address struct {
	Name  string
	Email string
}

// Message is a rendered, ready-to-send email.
type Message struct {
	To      []Address
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages through a concrete provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
