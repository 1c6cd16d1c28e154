package processor

// FieldType enumerates the value types a settings field can hold.
type FieldType int

const (
	FieldString FieldType = iota
	FieldNumber
	FieldBool
	FieldStringList
	FieldPercentSplit
	FieldScheduleList
	FieldSecret
)

// FieldSpec declares one typed field of a settings section.
type FieldSpec struct {
	Key      string
	Type     FieldType
	Default  any
	OneOf    []string
	Min      float64
	Max      float64
	HasRange bool
}

// Section keys, in the order the UI renders them.
const (
	SectionBusiness     = "business"
	SectionGoals        = "goals"
	SectionBudget       = "budget"
	SectionAudience     = "audience"
	SectionCompliance   = "compliance"
	SectionIntegrations = "integrations"
)

// SectionKeys lists every known section.
var SectionKeys = []string{
	SectionBusiness,
	SectionGoals,
	SectionBudget,
	SectionAudience,
	SectionCompliance,
	SectionIntegrations,
}

var sectionSchemas = map[string][]FieldSpec{
	SectionBusiness: {
		{Key: "companyName", Type: FieldString, Default: ""},
		{Key: "tagline", Type: FieldString, Default: ""},
		{Key: "phone", Type: FieldString, Default: ""},
		{Key: "email", Type: FieldString, Default: ""},
		{Key: "website", Type: FieldString, Default: ""},
		{Key: "address", Type: FieldString, Default: ""},
		{Key: "serviceRegions", Type: FieldStringList, Default: []string{}},
		{Key: "workingHours", Type: FieldScheduleList, Default: []map[string]string{}},
	},
	SectionGoals: {
		{Key: "primaryGoal", Type: FieldString, Default: "lead_generation",
			OneOf: []string{"lead_generation", "brand_awareness", "site_visits", "referrals"}},
		{Key: "monthlyLeadTarget", Type: FieldNumber, Default: float64(50), Min: 0, Max: 100000, HasRange: true},
		{Key: "targetCPL", Type: FieldNumber, Default: float64(450), Min: 0, Max: 1000000, HasRange: true},
		{Key: "responseSLAMinutes", Type: FieldNumber, Default: float64(30), Min: 1, Max: 1440, HasRange: true},
		{Key: "autonomyMode", Type: FieldString, Default: "review",
			OneOf: []string{"draft", "review", "auto"}},
		{Key: "killSwitchEngaged", Type: FieldBool, Default: false},
	},
	SectionBudget: {
		{Key: "dailyBudget", Type: FieldNumber, Default: float64(0), Min: 0, Max: 10000000, HasRange: true},
		{Key: "monthlyCap", Type: FieldNumber, Default: float64(0), Min: 0, Max: 100000000, HasRange: true},
		{Key: "currency", Type: FieldString, Default: "INR", OneOf: []string{"INR", "USD"}},
		{Key: "platformSplit", Type: FieldPercentSplit, Default: map[string]float64{
			"meta": 40, "google": 30, "youtube": 10, "whatsapp": 10, "emailSms": 10,
		}},
		{Key: "bidStrategy", Type: FieldString, Default: "cpl", OneOf: []string{"cpl", "cpc", "cpm"}},
		{Key: "autoScaling", Type: FieldBool, Default: false},
	},
	SectionAudience: {
		{Key: "segments", Type: FieldStringList, Default: []string{}},
		{Key: "languages", Type: FieldStringList, Default: []string{"en", "hi"}},
		{Key: "serviceInterests", Type: FieldStringList, Default: []string{}},
		{Key: "excludeKeywords", Type: FieldStringList, Default: []string{}},
	},
	SectionCompliance: {
		{Key: "subsidyClaimsApproved", Type: FieldBool, Default: false},
		{Key: "disclaimerText", Type: FieldString, Default: ""},
		{Key: "consentRequired", Type: FieldBool, Default: true},
		{Key: "dataRetentionDays", Type: FieldNumber, Default: float64(365), Min: 30, Max: 3650, HasRange: true},
	},
	SectionIntegrations: {
		{Key: "leadWebhookURL", Type: FieldString, Default: ""},
		{Key: "crmAPIKey", Type: FieldSecret, Default: ""},
		{Key: "autoSyncEnabled", Type: FieldBool, Default: false},
		{Key: "syncIntervalMinutes", Type: FieldNumber, Default: float64(60), Min: 5, Max: 1440, HasRange: true},
	},
}

// Defaults returns the default record for a section.
func Defaults(section string) (map[string]any, bool) {
	schema, ok := sectionSchemas[section]
	if !ok {
		return nil, false
	}
	record := make(map[string]any, len(schema))
	for _, field := range schema {
		record[field.Key] = field.Default
	}
	return record, true
}

// IsKnownSection reports whether a section key is defined.
func IsKnownSection(section string) bool {
	_, ok := sectionSchemas[section]
	return ok
}
