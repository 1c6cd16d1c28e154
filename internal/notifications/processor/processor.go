package processor

import (
	"context"
	"fmt"

	"marketing-server/internal/auth"
	"marketing-server/internal/observability"
	settingsprocessor "marketing-server/internal/settings/processor"
	"marketing-server/internal/store"
)

const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
)

// NotificationsStore is the persistence surface for the alerting
// configuration and its log.
type NotificationsStore interface {
	GetNotificationsState(ctx context.Context) (store.NotificationsState, error)
	SaveNotificationsState(ctx context.Context, state store.NotificationsState) (store.NotificationsState, error)
	AppendNotification(ctx context.Context, notificationType, message string) (store.NotificationEntry, error)
	ListNotifications(ctx context.Context, limit int) ([]store.NotificationEntry, error)
}

// EmailSender delivers instant alert emails.
type EmailSender interface {
	SendEmail(ctx context.Context, from, to, subject, htmlContent string) (string, error)
}

// WhatsAppSender delivers instant alert WhatsApp messages.
type WhatsAppSender interface {
	SendWhatsApp(ctx context.Context, to, body string) (string, error)
}

// SettingsReader resolves the business contact details alerts go to.
type SettingsReader interface {
	ReadSection(ctx context.Context, section string) (settingsprocessor.SectionView, error)
}

type Processor struct {
	store    NotificationsStore
	mail     EmailSender
	whatsapp WhatsAppSender
	settings SettingsReader
	from     string
	logger   *observability.Logger
}

// NewProcessor wires the alerting processor. mail and whatsapp may be nil
// when the corresponding channel is not configured; pushes then log only.
func NewProcessor(st NotificationsStore, mail EmailSender, whatsapp WhatsAppSender, settings SettingsReader, fromAddress string, logger *observability.Logger) *Processor {
	return &Processor{store: st, mail: mail, whatsapp: whatsapp, settings: settings, from: fromAddress, logger: logger}
}

// State returns the alerting configuration with defaults filled in.
func (p *Processor) State(ctx context.Context) (store.NotificationsState, error) {
	state, err := p.store.GetNotificationsState(ctx)
	if err != nil {
		return store.NotificationsState{}, fmt.Errorf("read notifications state: %w", err)
	}
	if state.DailyDigest.Time == "" {
		state.DailyDigest.Time = "09:00"
	}
	return state, nil
}

// Save persists the alerting configuration with a compare-and-swap on
// its revision.
func (p *Processor) Save(ctx context.Context, digest store.DailyDigest, instant store.InstantAlerts, revision int, actor auth.Actor) (store.NotificationsState, error) {
	if digest.Time == "" {
		digest.Time = "09:00"
	}
	saved, err := p.store.SaveNotificationsState(ctx, store.NotificationsState{
		DailyDigest: digest,
		Instant:     instant,
		Revision:    revision,
	})
	if err != nil {
		return store.NotificationsState{}, err
	}
	p.logger.Info(observability.WithFields(ctx, observability.Field{Key: "actor", Value: actor.Name}), "notifications settings saved")
	return saved, nil
}

// Push appends one alert to the notification log and, for each requested
// channel with instant alerts enabled, forwards it to the configured
// sender. Dispatch failures are logged and never fail the push.
func (p *Processor) Push(ctx context.Context, notificationType, message string, channels []string) (store.NotificationEntry, error) {
	entry, err := p.store.AppendNotification(ctx, notificationType, message)
	if err != nil {
		return store.NotificationEntry{}, fmt.Errorf("append notification: %w", err)
	}

	state, err := p.State(ctx)
	if err != nil {
		p.logger.Error(ctx, "skipping alert dispatch, notifications state unavailable", err)
		return entry, nil
	}

	for _, channel := range channels {
		switch channel {
		case ChannelEmail:
			if state.Instant.Email && p.mail != nil {
				p.dispatchEmail(ctx, notificationType, message)
			}
		case ChannelWhatsApp:
			if state.Instant.WhatsApp && p.whatsapp != nil {
				p.dispatchWhatsApp(ctx, message)
			}
		}
	}
	return entry, nil
}

// Log returns the most recent alerts, newest first.
func (p *Processor) Log(ctx context.Context, limit int) ([]store.NotificationEntry, error) {
	return p.store.ListNotifications(ctx, limit)
}

func (p *Processor) dispatchEmail(ctx context.Context, notificationType, message string) {
	to := p.businessContact(ctx, "email")
	if to == "" {
		p.logger.Warn(ctx, "instant email alert enabled but no business email is set")
		return
	}
	subject := "Marketing alert: " + notificationType
	body := "<p>" + message + "</p>"
	if _, err := p.mail.SendEmail(ctx, p.from, to, subject, body); err != nil {
		p.logger.Error(ctx, "failed to send alert email", err)
	}
}

func (p *Processor) dispatchWhatsApp(ctx context.Context, message string) {
	to := p.businessContact(ctx, "phone")
	if to == "" {
		p.logger.Warn(ctx, "instant whatsapp alert enabled but no business phone is set")
		return
	}
	if _, err := p.whatsapp.SendWhatsApp(ctx, to, message); err != nil {
		p.logger.Error(ctx, "failed to send whatsapp alert", err)
	}
}

func (p *Processor) businessContact(ctx context.Context, key string) string {
	view, err := p.settings.ReadSection(ctx, settingsprocessor.SectionBusiness)
	if err != nil {
		p.logger.Error(ctx, "failed to read business settings for alert dispatch", err)
		return ""
	}
	value, _ := view.Data[key].(string)
	return value
}
