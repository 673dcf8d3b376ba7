package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
	"golang.org/x/time/rate"

	"tracksync/config"
	"tracksync/syncer"
)

const (
	DefaultMailInterval = 10 * time.Second

	subjectPrefix       = "[Toggl-Redmine] "
	subjectAdminError   = subjectPrefix + "Sync ERROR (admin report)"
	subjectAdminSuccess = subjectPrefix + "Sync success (admin report)"
	subjectUserError    = subjectPrefix + "Sync ERROR"
	subjectFatal        = subjectPrefix + "Sync FATAL ERROR"
	senderName          = "toggl-redmine sync"
)

// Sender delivers prepared messages. *mail.Client satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// NewSMTPSender builds a go-mail client from the mail configuration.
func NewSMTPSender(cfg config.MailConfig) (*mail.Client, error) {
	options := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	switch cfg.TLSPolicy {
	case "mandatory":
		options = append(options, mail.WithTLSPolicy(mail.TLSMandatory))
	case "none":
		options = append(options, mail.WithTLSPolicy(mail.NoTLS))
	default:
		options = append(options, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(cfg.Host, options...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return client, nil
}

type MailerConfig struct {
	From       string
	AdminEmail string
	// Limiter spaces out deliveries; defaults to one mail per DefaultMailInterval.
	Limiter *rate.Limiter
	Logger  *zerolog.Logger
}

type Mailer struct {
	sender  Sender
	from    string
	admin   string
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewMailer(sender Sender, cfg MailerConfig) *Mailer {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(DefaultMailInterval), 1)
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Mailer{
		sender:  sender,
		from:    cfg.From,
		admin:   cfg.AdminEmail,
		limiter: limiter,
		logger:  logger,
	}
}

// SendReports mails the admin report when anything failed or changed, and an
// error report to every user with failures.
func (m *Mailer) SendReports(ctx context.Context, rep syncer.Report) error {
	loc := rep.From.Location()
	var errs []error

	all := BuildTables(rep.Owners, loc)
	if all.Empty() {
		return nil
	}
	switch {
	case rep.HasErrors():
		errs = append(errs, m.send(ctx, m.admin, subjectAdminError, errorBody(all)))
	case rep.HasChanges():
		errs = append(errs, m.send(ctx, m.admin, subjectAdminSuccess, successBody(all)))
	}

	for _, owner := range rep.Owners {
		tables := BuildTables([]syncer.OwnerRun{owner}, loc)
		if len(tables.Errors) == 0 {
			continue
		}
		address := strings.TrimSpace(owner.User.NotificationsEmail)
		if address == "" {
			m.logger.Warn().Str("redmine_user", owner.User.RedmineUsername).Msg("no notifications email configured, skipping user error report")
			continue
		}
		errs = append(errs, m.send(ctx, address, subjectUserError, errorBody(tables)))
	}

	return errors.Join(errs...)
}

// SendFatal mails a failure that stopped the whole run to the admin.
func (m *Mailer) SendFatal(ctx context.Context, cause error) error {
	return m.send(ctx, m.admin, subjectFatal, "<pre>"+html.EscapeString(cause.Error())+"</pre>")
}

func (m *Mailer) send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.FromFormat(senderName, m.from); err != nil {
		return fmt.Errorf("set mail sender %q: %w", m.from, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set mail recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, body)

	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for mail throttle: %w", err)
	}
	m.logger.Info().Str("subject", subject).Str("to", to).Msg("sending email")
	if err := m.sender.DialAndSendWithContext(ctx, msg); err != nil {
		m.logger.Error().Err(err).Str("to", to).Msg("failed to send mail")
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

func errorBody(tables Tables) string {
	var body strings.Builder
	body.WriteString("<pre>ERRORS: <br />")
	body.WriteString(tableHTML(errorHeaders, tables.Errors))
	body.WriteString("<br />Successfully synced:<br />")
	body.WriteString(tableHTML(changeHeaders, tables.Changes))
	body.WriteString("<br />No changes:<br />")
	body.WriteString(tableHTML(nopHeaders, tables.Nop))
	body.WriteString("</pre>")
	return body.String()
}

func successBody(tables Tables) string {
	var body strings.Builder
	body.WriteString("<pre>Successfully synced:<br />")
	body.WriteString(tableHTML(changeHeaders, tables.Changes))
	body.WriteString("<br />No changes:<br />")
	body.WriteString(tableHTML(nopHeaders, tables.Nop))
	body.WriteString("</pre>")
	return body.String()
}

func tableHTML(headers []string, rows [][]string) string {
	var buf bytes.Buffer
	if err := renderTable(&buf, headers, rows); err != nil {
		return html.EscapeString(err.Error())
	}
	return html.EscapeString(buf.String())
}
