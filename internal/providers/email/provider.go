package email

import (
	"context"
	"net/mail"
)

// Identity is the sending account of one tenant. It travels with every call
// so no process-wide mail state exists.
type Identity struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
}

func (i Identity) From() string {
	addr := mail.Address{Name: i.FromName, Address: i.FromAddress}
	return addr.String()
}

type Message struct {
	To        string
	ToName    string
	Subject   string
	HTMLBody  string
	TextBody  string
	MessageID string
}

type Provider interface {
	Send(ctx context.Context, identity Identity, msg Message) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, identity Identity, msg Message) error {
	return nil
}
