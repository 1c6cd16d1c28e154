package bootstrap

import (
	"context"
	"fmt"

	"marketing-server/internal/api"
	"marketing-server/internal/auth"
	"marketing-server/internal/clients/googleai"
	"marketing-server/internal/clients/mail"
	"marketing-server/internal/clients/messaging"
	"marketing-server/internal/config"
	"marketing-server/internal/observability"
	"marketing-server/internal/secrets"
	"marketing-server/internal/store"

	automationHandler "marketing-server/internal/automation/handler"
	automationProcessor "marketing-server/internal/automation/processor"
	brainHandler "marketing-server/internal/brain/handler"
	brainProcessor "marketing-server/internal/brain/processor"
	campaignsHandler "marketing-server/internal/campaigns/handler"
	campaignsProcessor "marketing-server/internal/campaigns/processor"
	connectorsHandler "marketing-server/internal/connectors/handler"
	connectorsProcessor "marketing-server/internal/connectors/processor"
	governanceHandler "marketing-server/internal/governance/handler"
	governanceProcessor "marketing-server/internal/governance/processor"
	notificationsHandler "marketing-server/internal/notifications/handler"
	notificationsProcessor "marketing-server/internal/notifications/processor"
	settingsHandler "marketing-server/internal/settings/handler"
	settingsProcessor "marketing-server/internal/settings/processor"
)

// Dependencies holds all initialized application dependencies.
type Dependencies struct {
	Store  store.Store
	Logger *observability.Logger

	AuthService auth.Service

	SettingsHandler      *settingsHandler.Handler
	ConnectorsHandler    *connectorsHandler.Handler
	BrainHandler         *brainHandler.Handler
	CampaignsHandler     *campaignsHandler.Handler
	AutomationHandler    *automationHandler.Handler
	GovernanceHandler    *governanceHandler.Handler
	NotificationsHandler *notificationsHandler.Handler
	StateHandler         *api.StateHandler
}

// Initialize sets up all application dependencies.
func Initialize(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	deps := &Dependencies{Logger: logger}

	var err error
	deps.Store, err = store.New(cfg.Database.ConnectionString(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	box, err := secrets.NewBox(cfg.Auth.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential sealing: %w", err)
	}

	deps.AuthService = auth.New(cfg.Auth.JWTSecret, logger)

	mailClient, err := mail.NewResendClient(cfg.Services.ResendAPIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create resend client: %w", err)
	}
	messagingClient := messaging.NewTwilioClient(
		cfg.Services.TwilioAccountSID,
		cfg.Services.TwilioAuthToken,
		cfg.Services.TwilioWhatsAppFrom,
		logger,
	)
	googleAIClient, err := googleai.NewClient(cfg.Services.GoogleAIAPIKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create google ai client: %w", err)
	}

	// Settings first: campaigns, notifications and governance all read
	// from or write through it.
	settingsProc := settingsProcessor.NewProcessor(&deps.Store, box, logger)
	deps.SettingsHandler = settingsHandler.New(settingsProc, logger)

	prober := connectorsProcessor.NewLiveProber(messagingClient)
	connectorsProc := connectorsProcessor.NewProcessor(&deps.Store, box, prober, logger)
	deps.ConnectorsHandler = connectorsHandler.New(connectorsProc, logger)

	notificationsProc := notificationsProcessor.NewProcessor(
		&deps.Store, mailClient, messagingClient, settingsProc,
		cfg.Services.DefaultEmailSender, logger,
	)
	deps.NotificationsHandler = notificationsHandler.New(notificationsProc, logger)

	campaignsProc := campaignsProcessor.NewProcessor(&deps.Store, connectorsProc, googleAIClient, settingsProc, logger)

	brainProc := brainProcessor.NewProcessor(&deps.Store, googleAIClient, campaignsProc, logger)
	deps.BrainHandler = brainHandler.New(brainProc, logger)
	deps.CampaignsHandler = campaignsHandler.New(campaignsProc, brainProc, logger)

	automationProc := automationProcessor.NewProcessor(&deps.Store, campaignsProc, notificationsProc, logger)
	deps.AutomationHandler = automationHandler.New(automationProc, logger)

	governanceProc := governanceProcessor.NewProcessor(&deps.Store, campaignsProc, settingsProc, settingsProc, notificationsProc, logger)
	deps.GovernanceHandler = governanceHandler.New(governanceProc, logger)

	deps.StateHandler = api.NewStateHandler(
		settingsProc, connectorsProc, brainProc, campaignsProc,
		automationProc, governanceProc, notificationsProc, logger,
	)

	return deps, nil
}
