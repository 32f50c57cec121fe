package interfaces

import "context"

// Mailer sends certificate delivery emails.
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

// MailMessage is one outbound email.
type MailMessage struct {
	To      string
	Subject string
	Body    string
}
