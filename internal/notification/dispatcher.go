package notification

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/shopspring/decimal"
	customerdomain "github.com/smallbiznis/dunning/internal/customer/domain"
	organizationdomain "github.com/smallbiznis/dunning/internal/organization/domain"
	"github.com/smallbiznis/dunning/internal/providers/email"
	reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrUnresolvedContact = errors.New("unresolved_contact")
	ErrDispatchFailed    = errors.New("dispatch_failed")
	ErrUnknownLevel      = errors.New("unknown_reminder_level")
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// InvoiceReminder is one escalation notice. PriorCharges holds the fees and
// interest already charged by earlier notices of the same invoice.
type InvoiceReminder struct {
	Identity      organizationdomain.MailIdentity
	CustomerName  string
	CustomerEmail string
	InvoiceNumber string
	Currency      string
	Amount        decimal.Decimal
	DueAt         time.Time
	DaysOverdue   int
	Level         reminderdomain.Level
	Charge        reminderdomain.Charge
	PriorCharges  decimal.Decimal
	NoticeNumber  string
}

// OfferReminder tells a customer an offer is about to lapse.
type OfferReminder struct {
	Identity      organizationdomain.MailIdentity
	CustomerName  string
	CustomerEmail string
	OfferNumber   string
	Currency      string
	Amount        decimal.Decimal
	ValidUntil    time.Time
	DaysLeft      int
}

type Dispatcher interface {
	SendInvoiceReminder(ctx context.Context, reminder InvoiceReminder) error
	SendOfferReminder(ctx context.Context, reminder OfferReminder) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Provider email.Provider
}

type dispatcher struct {
	log      *zap.Logger
	provider email.Provider
	html     *htmltemplate.Template
	text     *texttemplate.Template
}

func NewDispatcher(p Params) (Dispatcher, error) {
	html, err := htmltemplate.New("mail").Funcs(htmltemplate.FuncMap(funcs)).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}
	text, err := texttemplate.New("mail").Funcs(funcs).ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	return &dispatcher{
		log:      p.Log.Named("notification.dispatcher"),
		provider: p.Provider,
		html:     html,
		text:     text,
	}, nil
}

func (d *dispatcher) SendInvoiceReminder(ctx context.Context, reminder InvoiceReminder) error {
	to, ok := customerdomain.ResolveContact(reminder.CustomerEmail)
	if !ok {
		return ErrUnresolvedContact
	}
	copyText, ok := invoiceCopy[reminder.Level]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLevel, reminder.Level)
	}

	places := reminderdomain.MinorUnits(reminder.Currency)
	charge := reminder.Charge.Rounded(places)
	data := map[string]any{
		"Subject":       fmt.Sprintf(copyText.subject, reminder.InvoiceNumber),
		"Headline":      copyText.headline,
		"Intro":         copyText.intro,
		"CustomerName":  reminder.CustomerName,
		"InvoiceNumber": reminder.InvoiceNumber,
		"Amount":        money(reminder.Amount, reminder.Currency),
		"Fee":           money(charge.Fee, reminder.Currency),
		"Interest":      money(charge.Interest, reminder.Currency),
		"PriorCharges":  money(reminder.PriorCharges, reminder.Currency),
		"Total":         money(reminder.Amount.Add(reminder.PriorCharges).Add(charge.Total()), reminder.Currency),
		"HasPrior":      reminder.PriorCharges.IsPositive(),
		"HasFee":        !charge.Fee.IsZero(),
		"HasInterest":   !charge.Interest.IsZero(),
		"DueAt":         reminder.DueAt,
		"DaysOverdue":   reminder.DaysOverdue,
		"NoticeNumber":  reminder.NoticeNumber,
		"SenderName":    senderName(reminder.Identity),
	}

	msg, err := d.render("invoice_reminder", data)
	if err != nil {
		return err
	}
	msg.To = to
	msg.ToName = reminder.CustomerName
	msg.MessageID = reminder.NoticeNumber
	return d.send(ctx, reminder.Identity, msg, zap.String("invoice_number", reminder.InvoiceNumber), zap.String("level", reminder.Level.String()))
}

func (d *dispatcher) SendOfferReminder(ctx context.Context, reminder OfferReminder) error {
	to, ok := customerdomain.ResolveContact(reminder.CustomerEmail)
	if !ok {
		return ErrUnresolvedContact
	}

	data := map[string]any{
		"Subject":      fmt.Sprintf(offerSubject, reminder.OfferNumber),
		"CustomerName": reminder.CustomerName,
		"OfferNumber":  reminder.OfferNumber,
		"Amount":       money(reminder.Amount, reminder.Currency),
		"ValidUntil":   reminder.ValidUntil,
		"DaysLeft":     reminder.DaysLeft,
		"SenderName":   senderName(reminder.Identity),
	}
	msg, err := d.render("offer_reminder", data)
	if err != nil {
		return err
	}
	msg.To = to
	msg.ToName = reminder.CustomerName
	return d.send(ctx, reminder.Identity, msg, zap.String("offer_number", reminder.OfferNumber))
}

func (d *dispatcher) render(name string, data map[string]any) (email.Message, error) {
	var html, text bytes.Buffer
	if err := d.html.ExecuteTemplate(&html, name+".html", data); err != nil {
		return email.Message{}, fmt.Errorf("render %s.html: %w", name, err)
	}
	if err := d.text.ExecuteTemplate(&text, name+".txt", data); err != nil {
		return email.Message{}, fmt.Errorf("render %s.txt: %w", name, err)
	}
	return email.Message{
		Subject:  data["Subject"].(string),
		HTMLBody: html.String(),
		TextBody: text.String(),
	}, nil
}

func (d *dispatcher) send(ctx context.Context, identity organizationdomain.MailIdentity, msg email.Message, fields ...zap.Field) error {
	err := d.provider.Send(ctx, email.Identity{
		Host:        identity.Host,
		Port:        identity.Port,
		Username:    identity.Username,
		Password:    identity.Password,
		FromAddress: identity.FromAddress,
		FromName:    identity.FromName,
	}, msg)
	if err != nil {
		d.log.Warn("notification.send.failed", append(fields, zap.Error(err))...)
		return fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	d.log.Debug("notification.sent", fields...)
	return nil
}

func money(amount decimal.Decimal, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	return amount.StringFixed(reminderdomain.MinorUnits(currency)) + " " + currency
}

func senderName(identity organizationdomain.MailIdentity) string {
	if identity.FromName != "" {
		return identity.FromName
	}
	return identity.FromAddress
}

var funcs = texttemplate.FuncMap{
	"date": func(t time.Time) string { return t.UTC().Format("2006-01-02") },
}
