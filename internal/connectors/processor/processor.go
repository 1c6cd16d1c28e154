package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketing-server/internal/auth"
	"marketing-server/internal/observability"
	"marketing-server/internal/secrets"
	"marketing-server/internal/store"
)

var (
	ErrUnknownPlatform = errors.New("unknown integration platform")
	ErrNotConnected    = errors.New("platform is not connected")
	ErrMissingFields   = errors.New("missing required credential fields")
)

// staleAfter is how long a connected credential stays green without a
// fresh validation before it degrades to a warning.
const staleAfter = 7 * 24 * time.Hour

// ConnectorStore is the persistence surface the connector registry needs.
type ConnectorStore interface {
	GetIntegration(ctx context.Context, platform string) (store.IntegrationCredential, error)
	ListIntegrations(ctx context.Context) ([]store.IntegrationCredential, error)
	UpsertIntegration(ctx context.Context, credential store.IntegrationCredential) (store.IntegrationCredential, error)
	ClearIntegration(ctx context.Context, platform, message string) (store.IntegrationCredential, error)
	AppendIntegrationAudit(ctx context.Context, entry store.IntegrationAuditEntry) (store.IntegrationAuditEntry, error)
	ListIntegrationAudit(ctx context.Context, limit int) ([]store.IntegrationAuditEntry, error)
}

type Processor struct {
	store  ConnectorStore
	box    *secrets.Box
	prober Prober
	logger *observability.Logger
}

func NewProcessor(st ConnectorStore, box *secrets.Box, prober Prober, logger *observability.Logger) *Processor {
	return &Processor{store: st, box: box, prober: prober, logger: logger}
}

// ConnectorView is the masked, UI-facing state of one platform.
type ConnectorView struct {
	Platform        string            `json:"platform"`
	Status          string            `json:"status"`
	Fields          map[string]string `json:"fields"`
	Message         string            `json:"message,omitempty"`
	LastValidatedAt *time.Time        `json:"lastValidatedAt,omitempty"`
	ValidatedBy     string            `json:"validatedBy,omitempty"`
}

// ConnectResult reports the save-then-validate outcome. The credential is
// persisted even when validation fails; OK reflects the validation.
type ConnectResult struct {
	OK      bool
	Message string
	View    ConnectorView
}

// Connect saves the submitted credentials and then validates them. A
// failed validation keeps the saved record with an error status so the
// operator can see and fix it.
func (p *Processor) Connect(ctx context.Context, platform string, fields map[string]string, actor auth.Actor) (ConnectResult, error) {
	schema, ok := platformCatalog[platform]
	if !ok {
		return ConnectResult{}, ErrUnknownPlatform
	}

	existing, err := p.store.GetIntegration(ctx, platform)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return ConnectResult{}, fmt.Errorf("read integration %s: %w", platform, err)
	}

	// Merge over the stored record: omitted fields keep their previous
	// values so a single field can be corrected without re-entering the
	// rest. The secret placeholder also means keep.
	sealed := make(map[string]string, len(schema))
	for _, field := range schema {
		if prev, has := existing.Details[field.Key]; has {
			sealed[field.Key] = prev
		}
	}
	var missing []string
	for _, field := range schema {
		value := fields[field.Key]
		if value != "" && !(field.Secret && secrets.IsPlaceholder(value)) {
			if field.Secret {
				enc, sealErr := p.box.Seal(value)
				if sealErr != nil {
					return ConnectResult{}, fmt.Errorf("seal %s.%s: %w", platform, field.Key, sealErr)
				}
				sealed[field.Key] = enc
			} else {
				sealed[field.Key] = value
			}
		}
		if field.Required && sealed[field.Key] == "" {
			missing = append(missing, field.Label)
		}
	}
	if len(missing) > 0 {
		return ConnectResult{}, fmt.Errorf("%w: %v", ErrMissingFields, missing)
	}

	credential := store.IntegrationCredential{
		Platform: platform,
		Status:   store.IntegrationStatusUnknown,
		Details:  sealed,
	}
	if _, err := p.store.UpsertIntegration(ctx, credential); err != nil {
		return ConnectResult{}, fmt.Errorf("save integration %s: %w", platform, err)
	}
	p.audit(ctx, platform, "connect", actor, "", nil)

	return p.validate(ctx, platform, actor)
}

// Test re-validates the stored credentials and refreshes the status.
func (p *Processor) Test(ctx context.Context, platform string, actor auth.Actor) (ConnectResult, error) {
	if _, ok := platformCatalog[platform]; !ok {
		return ConnectResult{}, ErrUnknownPlatform
	}
	existing, err := p.store.GetIntegration(ctx, platform)
	if errors.Is(err, store.ErrNotFound) {
		return ConnectResult{}, ErrNotConnected
	}
	if err != nil {
		return ConnectResult{}, fmt.Errorf("read integration %s: %w", platform, err)
	}
	if existing.Status == store.IntegrationStatusDisconnected || len(existing.Details) == 0 {
		return ConnectResult{}, ErrNotConnected
	}
	p.audit(ctx, platform, "test", actor, "", nil)
	return p.validate(ctx, platform, actor)
}

// Disable keeps the stored credentials but takes the platform out of
// rotation.
func (p *Processor) Disable(ctx context.Context, platform string, actor auth.Actor) (ConnectorView, error) {
	if _, ok := platformCatalog[platform]; !ok {
		return ConnectorView{}, ErrUnknownPlatform
	}
	existing, err := p.store.GetIntegration(ctx, platform)
	if errors.Is(err, store.ErrNotFound) {
		return ConnectorView{}, ErrNotConnected
	}
	if err != nil {
		return ConnectorView{}, fmt.Errorf("read integration %s: %w", platform, err)
	}
	existing.Status = store.IntegrationStatusDisabled
	existing.Message = "Disabled by " + actor.Name
	updated, err := p.store.UpsertIntegration(ctx, existing)
	if err != nil {
		return ConnectorView{}, fmt.Errorf("disable integration %s: %w", platform, err)
	}
	p.audit(ctx, platform, "disable", actor, "", nil)
	return p.view(updated), nil
}

// Delete wipes the stored credentials entirely.
func (p *Processor) Delete(ctx context.Context, platform string, actor auth.Actor) error {
	if _, ok := platformCatalog[platform]; !ok {
		return ErrUnknownPlatform
	}
	if _, err := p.store.ClearIntegration(ctx, platform, "Credentials removed by "+actor.Name); err != nil {
		return fmt.Errorf("clear integration %s: %w", platform, err)
	}
	p.audit(ctx, platform, "delete", actor, "", nil)
	return nil
}

// List returns the masked state of every platform, including ones that
// were never connected.
func (p *Processor) List(ctx context.Context) ([]ConnectorView, error) {
	credentials, err := p.store.ListIntegrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	byPlatform := make(map[string]store.IntegrationCredential, len(credentials))
	for _, credential := range credentials {
		byPlatform[credential.Platform] = credential
	}
	views := make([]ConnectorView, 0, len(PlatformKeys))
	for _, platform := range PlatformKeys {
		credential, connected := byPlatform[platform]
		if !connected {
			views = append(views, ConnectorView{
				Platform: platform,
				Status:   store.IntegrationStatusDisconnected,
				Fields:   map[string]string{},
			})
			continue
		}
		views = append(views, p.view(credential))
	}
	return views, nil
}

// Credentials returns the decrypted credential map for internal
// consumers such as the launch pipeline. Fails unless the platform is
// currently connected.
func (p *Processor) Credentials(ctx context.Context, platform string) (map[string]string, error) {
	if _, ok := platformCatalog[platform]; !ok {
		return nil, ErrUnknownPlatform
	}
	credential, err := p.store.GetIntegration(ctx, platform)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("read integration %s: %w", platform, err)
	}
	if credential.Status != store.IntegrationStatusConnected && credential.Status != store.IntegrationStatusWarning {
		return nil, ErrNotConnected
	}
	return p.unseal(platform, credential.Details)
}

// AuditTrail returns the developer-facing integration log, newest first.
func (p *Processor) AuditTrail(ctx context.Context, limit int) ([]store.IntegrationAuditEntry, error) {
	return p.store.ListIntegrationAudit(ctx, limit)
}

func (p *Processor) validate(ctx context.Context, platform string, actor auth.Actor) (ConnectResult, error) {
	credential, err := p.store.GetIntegration(ctx, platform)
	if err != nil {
		return ConnectResult{}, fmt.Errorf("read integration %s: %w", platform, err)
	}
	creds, err := p.unseal(platform, credential.Details)
	if err != nil {
		return ConnectResult{}, err
	}

	now := time.Now().UTC()
	probeErr := p.prober.Probe(ctx, platform, creds)
	if probeErr != nil {
		credential.Status = store.IntegrationStatusError
		credential.Message = "Validation failed. Check the credentials and try again."
		credential.LastValidatedAt = &now
		credential.ValidatedBy = actor.Name
		if _, saveErr := p.store.UpsertIntegration(ctx, credential); saveErr != nil {
			return ConnectResult{}, fmt.Errorf("save integration %s: %w", platform, saveErr)
		}
		p.audit(ctx, platform, "validate_failed", actor, probeErr.Error(), nil)
		return ConnectResult{OK: false, Message: credential.Message, View: p.view(credential)}, nil
	}

	credential.Status = store.IntegrationStatusConnected
	credential.Message = ""
	credential.LastValidatedAt = &now
	credential.ValidatedBy = actor.Name
	updated, err := p.store.UpsertIntegration(ctx, credential)
	if err != nil {
		return ConnectResult{}, fmt.Errorf("save integration %s: %w", platform, err)
	}
	p.audit(ctx, platform, "validate_ok", actor, "", nil)
	return ConnectResult{OK: true, View: p.view(updated)}, nil
}

func (p *Processor) unseal(platform string, details map[string]string) (map[string]string, error) {
	creds := make(map[string]string, len(details))
	for key, value := range details {
		if isSecretField(platform, key) && value != "" {
			plain, err := p.box.Open(value)
			if err != nil {
				return nil, fmt.Errorf("unseal %s.%s: %w", platform, key, err)
			}
			creds[key] = plain
			continue
		}
		creds[key] = value
	}
	return creds, nil
}

// view masks secret fields and degrades stale connected credentials to a
// warning.
func (p *Processor) view(credential store.IntegrationCredential) ConnectorView {
	fields := make(map[string]string, len(credential.Details))
	for _, field := range platformCatalog[credential.Platform] {
		value, has := credential.Details[field.Key]
		if !has || value == "" {
			continue
		}
		if field.Secret {
			fields[field.Key] = secrets.Placeholder
		} else {
			fields[field.Key] = value
		}
	}
	status := credential.Status
	message := credential.Message
	if status == store.IntegrationStatusConnected &&
		(credential.LastValidatedAt == nil || time.Since(*credential.LastValidatedAt) > staleAfter) {
		status = store.IntegrationStatusWarning
		message = "Not validated recently. Run a connection test."
	}
	return ConnectorView{
		Platform:        credential.Platform,
		Status:          status,
		Fields:          fields,
		Message:         message,
		LastValidatedAt: credential.LastValidatedAt,
		ValidatedBy:     credential.ValidatedBy,
	}
}

func (p *Processor) audit(ctx context.Context, platform, action string, actor auth.Actor, developerMessage string, extra map[string]any) {
	entry := store.IntegrationAuditEntry{
		Timestamp:        time.Now().UTC(),
		Platform:         platform,
		Action:           action,
		Admin:            actor.Name,
		DeveloperMessage: developerMessage,
		Context:          extra,
	}
	if _, err := p.store.AppendIntegrationAudit(ctx, entry); err != nil {
		p.logger.Error(ctx, "failed to append integration audit", err)
	}
}
