package processor

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"marketing-server/internal/auth"
	"marketing-server/internal/observability"
	"marketing-server/internal/secrets"
	"marketing-server/internal/store"
)

var (
	ErrUnknownSection  = errors.New("unknown settings section")
	ErrBudgetLocked    = errors.New("monthly cap exceeds the governance budget lock")
	ErrNothingToRevert = errors.New("no previous version to revert to")
)

// SettingsStore is the persistence surface the settings processor needs.
type SettingsStore interface {
	GetSettingsSection(ctx context.Context, section string) (store.SettingsRecord, error)
	ListSettingsSections(ctx context.Context) ([]store.SettingsRecord, error)
	SaveSettingsSection(ctx context.Context, section string, data map[string]any, expectedRevision int) (store.SettingsRecord, error)
	RevertSettingsSection(ctx context.Context, section string) (store.SettingsRecord, error)
	AppendSettingsAudit(ctx context.Context, section, actorName, actorEmail string, changes []string) (store.SettingsAuditEntry, error)
	ListSettingsAudit(ctx context.Context, limit int) ([]store.SettingsAuditEntry, error)
	GetGovernanceState(ctx context.Context) (store.GovernanceState, error)
}

type Processor struct {
	store  SettingsStore
	box    *secrets.Box
	logger *observability.Logger
}

func NewProcessor(st SettingsStore, box *secrets.Box, logger *observability.Logger) *Processor {
	return &Processor{store: st, box: box, logger: logger}
}

// SectionView is a masked section record with its revision.
type SectionView struct {
	Section  string         `json:"section"`
	Data     map[string]any `json:"data"`
	Revision int            `json:"revision"`
}

// SaveResult carries the outcome of a save or test operation. Messages can
// accompany a successful save when the record triggered soft warnings.
type SaveResult struct {
	OK       bool
	Messages []string
	View     SectionView
}

// ReadSection returns a section merged over its defaults, with secret
// fields replaced by the placeholder.
func (p *Processor) ReadSection(ctx context.Context, section string) (SectionView, error) {
	schema, ok := sectionSchemas[section]
	if !ok {
		return SectionView{}, ErrUnknownSection
	}
	record, err := p.store.GetSettingsSection(ctx, section)
	if errors.Is(err, store.ErrNotFound) {
		defaults, _ := Defaults(section)
		return SectionView{Section: section, Data: defaults, Revision: 0}, nil
	}
	if err != nil {
		return SectionView{}, fmt.Errorf("read settings section %s: %w", section, err)
	}
	return SectionView{
		Section:  section,
		Data:     maskSecrets(schema, mergeOverDefaults(schema, record.Data)),
		Revision: record.Revision,
	}, nil
}

// ListSections returns every section's masked view, including sections that
// have never been saved.
func (p *Processor) ListSections(ctx context.Context) ([]SectionView, error) {
	records, err := p.store.ListSettingsSections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list settings sections: %w", err)
	}
	byKey := make(map[string]store.SettingsRecord, len(records))
	for _, record := range records {
		byKey[record.Section] = record
	}
	views := make([]SectionView, 0, len(SectionKeys))
	for _, section := range SectionKeys {
		schema := sectionSchemas[section]
		record, present := byKey[section]
		if !present {
			defaults, _ := Defaults(section)
			views = append(views, SectionView{Section: section, Data: defaults})
			continue
		}
		views = append(views, SectionView{
			Section:  section,
			Data:     maskSecrets(schema, mergeOverDefaults(schema, record.Data)),
			Revision: record.Revision,
		})
	}
	return views, nil
}

// SaveSection validates and persists a section update under optimistic
// concurrency. Hard validation failures return OK=false with the collected
// messages and no write. Soft warnings save and still surface messages.
func (p *Processor) SaveSection(ctx context.Context, section string, updates map[string]any, expectedRevision int, actor auth.Actor) (SaveResult, error) {
	schema, ok := sectionSchemas[section]
	if !ok {
		return SaveResult{}, ErrUnknownSection
	}

	current, revision, err := p.currentData(ctx, section)
	if err != nil {
		return SaveResult{}, err
	}

	next, errs, warnings := p.applyUpdates(schema, current, updates)
	if section == SectionBudget {
		if lockErr := p.checkBudgetLock(ctx, next); lockErr != nil {
			if errors.Is(lockErr, ErrBudgetLocked) {
				errs = append(errs, "Monthly cap exceeds the governance budget lock. Raise the lock first.")
			} else {
				return SaveResult{}, lockErr
			}
		}
	}
	if len(errs) > 0 {
		return SaveResult{OK: false, Messages: append(errs, warnings...)}, nil
	}

	changes := changedFields(schema, current, next)
	if expectedRevision < 0 {
		expectedRevision = revision
	}
	record, err := p.store.SaveSettingsSection(ctx, section, next, expectedRevision)
	if err != nil {
		return SaveResult{}, fmt.Errorf("save settings section %s: %w", section, err)
	}
	if len(changes) > 0 {
		if _, auditErr := p.store.AppendSettingsAudit(ctx, section, actor.Name, actor.Email, changes); auditErr != nil {
			p.logger.Error(ctx, "failed to append settings audit", auditErr)
		}
	}
	return SaveResult{
		OK:       true,
		Messages: warnings,
		View: SectionView{
			Section:  section,
			Data:     maskSecrets(schema, record.Data),
			Revision: record.Revision,
		},
	}, nil
}

// TestSection runs the same validation as SaveSection without persisting.
func (p *Processor) TestSection(ctx context.Context, section string, updates map[string]any) (SaveResult, error) {
	schema, ok := sectionSchemas[section]
	if !ok {
		return SaveResult{}, ErrUnknownSection
	}
	current, _, err := p.currentData(ctx, section)
	if err != nil {
		return SaveResult{}, err
	}
	next, errs, warnings := p.applyUpdates(schema, current, updates)
	if section == SectionBudget {
		if lockErr := p.checkBudgetLock(ctx, next); errors.Is(lockErr, ErrBudgetLocked) {
			errs = append(errs, "Monthly cap exceeds the governance budget lock. Raise the lock first.")
		} else if lockErr != nil {
			return SaveResult{}, lockErr
		}
	}
	if len(errs) > 0 {
		return SaveResult{OK: false, Messages: append(errs, warnings...)}, nil
	}
	return SaveResult{OK: true, Messages: warnings}, nil
}

// RevertSection restores the previous saved version of a section.
func (p *Processor) RevertSection(ctx context.Context, section string, actor auth.Actor) (SectionView, error) {
	schema, ok := sectionSchemas[section]
	if !ok {
		return SectionView{}, ErrUnknownSection
	}
	record, err := p.store.RevertSettingsSection(ctx, section)
	if errors.Is(err, store.ErrNotFound) {
		return SectionView{}, ErrNothingToRevert
	}
	if err != nil {
		return SectionView{}, fmt.Errorf("revert settings section %s: %w", section, err)
	}
	if _, auditErr := p.store.AppendSettingsAudit(ctx, section, actor.Name, actor.Email, []string{"reverted to previous version"}); auditErr != nil {
		p.logger.Error(ctx, "failed to append settings audit", auditErr)
	}
	return SectionView{
		Section:  section,
		Data:     maskSecrets(schema, mergeOverDefaults(schema, record.Data)),
		Revision: record.Revision,
	}, nil
}

// AuditTrail returns the most recent settings changes, newest first.
func (p *Processor) AuditTrail(ctx context.Context, limit int) ([]store.SettingsAuditEntry, error) {
	return p.store.ListSettingsAudit(ctx, limit)
}

// RevealSecret decrypts a stored secret field for internal consumers such
// as the sync pipeline. Never exposed through the API surface.
func (p *Processor) RevealSecret(ctx context.Context, section, key string) (string, error) {
	schema, ok := sectionSchemas[section]
	if !ok {
		return "", ErrUnknownSection
	}
	var spec *FieldSpec
	for i := range schema {
		if schema[i].Key == key {
			spec = &schema[i]
			break
		}
	}
	if spec == nil || spec.Type != FieldSecret {
		return "", fmt.Errorf("field %s.%s is not a secret", section, key)
	}
	current, _, err := p.currentData(ctx, section)
	if err != nil {
		return "", err
	}
	sealed, _ := current[key].(string)
	if sealed == "" {
		return "", nil
	}
	return p.box.Open(sealed)
}

// EngageKillSwitch flips the goals kill switch flag. Called by governance
// when the emergency stop fires.
func (p *Processor) EngageKillSwitch(ctx context.Context, actor auth.Actor) error {
	current, revision, err := p.currentData(ctx, SectionGoals)
	if err != nil {
		return err
	}
	if engaged, _ := current["killSwitchEngaged"].(bool); engaged {
		return nil
	}
	current["killSwitchEngaged"] = true
	if _, err := p.store.SaveSettingsSection(ctx, SectionGoals, current, revision); err != nil {
		return fmt.Errorf("engage kill switch: %w", err)
	}
	if _, auditErr := p.store.AppendSettingsAudit(ctx, SectionGoals, actor.Name, actor.Email, []string{"killSwitchEngaged"}); auditErr != nil {
		p.logger.Error(ctx, "failed to append settings audit", auditErr)
	}
	return nil
}

func (p *Processor) currentData(ctx context.Context, section string) (map[string]any, int, error) {
	schema := sectionSchemas[section]
	record, err := p.store.GetSettingsSection(ctx, section)
	if errors.Is(err, store.ErrNotFound) {
		defaults, _ := Defaults(section)
		return defaults, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read settings section %s: %w", section, err)
	}
	return mergeOverDefaults(schema, record.Data), record.Revision, nil
}

// applyUpdates folds validated updates into the current record. Unknown
// keys are dropped, untouched keys keep their current value.
func (p *Processor) applyUpdates(schema []FieldSpec, current, updates map[string]any) (map[string]any, []string, []string) {
	var errs, warnings []string
	next := make(map[string]any, len(schema))
	for _, field := range schema {
		next[field.Key] = current[field.Key]
		raw, touched := updates[field.Key]
		if !touched {
			continue
		}
		switch field.Type {
		case FieldString:
			value, ok := coerceString(raw)
			if !ok {
				errs = append(errs, fmt.Sprintf("%s must be text.", field.Key))
				continue
			}
			if len(field.OneOf) > 0 && !oneOfContains(field.OneOf, value) {
				errs = append(errs, fmt.Sprintf("%s must be one of: %v.", field.Key, field.OneOf))
				continue
			}
			next[field.Key] = value
		case FieldNumber:
			value, ok := coerceNumber(raw)
			if !ok {
				errs = append(errs, fmt.Sprintf("%s must be a number.", field.Key))
				continue
			}
			if field.HasRange && (value < field.Min || value > field.Max) {
				errs = append(errs, fmt.Sprintf("%s must be between %g and %g.", field.Key, field.Min, field.Max))
				continue
			}
			next[field.Key] = value
		case FieldBool:
			value, ok := coerceBool(raw)
			if !ok {
				errs = append(errs, fmt.Sprintf("%s must be true or false.", field.Key))
				continue
			}
			next[field.Key] = value
		case FieldStringList:
			value, ok := coerceStringList(raw)
			if !ok {
				errs = append(errs, fmt.Sprintf("%s must be a list of text values.", field.Key))
				continue
			}
			next[field.Key] = value
		case FieldPercentSplit:
			defaults, _ := field.Default.(map[string]float64)
			value, splitErrs := coercePercentSplit(raw, defaults)
			if len(splitErrs) > 0 {
				errs = append(errs, splitErrs...)
				continue
			}
			if !splitSumIsWhole(value) {
				warnings = append(warnings, fmt.Sprintf("Platform split adds up to %g%%, not 100%%.", splitSum(value)))
			}
			next[field.Key] = value
		case FieldScheduleList:
			value, schedErrs := coerceScheduleList(raw)
			if len(schedErrs) > 0 {
				errs = append(errs, schedErrs...)
				continue
			}
			next[field.Key] = value
		case FieldSecret:
			plain, ok := coerceString(raw)
			if !ok {
				errs = append(errs, fmt.Sprintf("%s must be text.", field.Key))
				continue
			}
			if secrets.IsPlaceholder(plain) {
				continue
			}
			if plain == "" {
				next[field.Key] = ""
				continue
			}
			sealed, sealErr := p.box.Seal(plain)
			if sealErr != nil {
				errs = append(errs, fmt.Sprintf("%s could not be stored securely.", field.Key))
				continue
			}
			next[field.Key] = sealed
		}
	}
	return next, errs, warnings
}

func (p *Processor) checkBudgetLock(ctx context.Context, next map[string]any) error {
	monthlyCap, ok := coerceNumber(next["monthlyCap"])
	if !ok {
		return nil
	}
	governance, err := p.store.GetGovernanceState(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read governance state: %w", err)
	}
	if governance.BudgetLock.Enabled && monthlyCap > governance.BudgetLock.Cap {
		return ErrBudgetLocked
	}
	return nil
}

// mergeOverDefaults normalises stored data by filling missing keys with
// defaults and dropping keys no longer in the schema.
func mergeOverDefaults(schema []FieldSpec, data map[string]any) map[string]any {
	merged := make(map[string]any, len(schema))
	for _, field := range schema {
		if value, present := data[field.Key]; present {
			merged[field.Key] = value
		} else {
			merged[field.Key] = field.Default
		}
	}
	return merged
}

func maskSecrets(schema []FieldSpec, data map[string]any) map[string]any {
	masked := make(map[string]any, len(data))
	for k, v := range data {
		masked[k] = v
	}
	for _, field := range schema {
		if field.Type != FieldSecret {
			continue
		}
		if stored, _ := masked[field.Key].(string); stored != "" {
			masked[field.Key] = secrets.Placeholder
		} else {
			masked[field.Key] = ""
		}
	}
	return masked
}

func changedFields(schema []FieldSpec, before, after map[string]any) []string {
	var changes []string
	for _, field := range schema {
		if !reflect.DeepEqual(before[field.Key], after[field.Key]) {
			changes = append(changes, field.Key)
		}
	}
	return changes
}
