package processor

// CampaignSpec declares one launchable campaign type and the connector
// platform it runs on.
type CampaignSpec struct {
	Type         string
	Label        string
	Platform     string
	ShareOfDaily float64
}

// Campaign type keys.
const (
	TypeLeadGenSearch   = "lead_gen_search"
	TypeLeadGenSocial   = "lead_gen_social"
	TypeRemarketing     = "remarketing"
	TypeWhatsAppNurture = "whatsapp_nurture"
	TypeBrandAwareness  = "brand_awareness"
)

var campaignCatalog = map[string]CampaignSpec{
	TypeLeadGenSearch: {
		Type:         TypeLeadGenSearch,
		Label:        "Lead generation - search",
		Platform:     "googleAds",
		ShareOfDaily: 0.35,
	},
	TypeLeadGenSocial: {
		Type:         TypeLeadGenSocial,
		Label:        "Lead generation - social",
		Platform:     "meta",
		ShareOfDaily: 0.30,
	},
	TypeRemarketing: {
		Type:         TypeRemarketing,
		Label:        "Remarketing",
		Platform:     "meta",
		ShareOfDaily: 0.15,
	},
	TypeWhatsAppNurture: {
		Type:         TypeWhatsAppNurture,
		Label:        "WhatsApp nurture",
		Platform:     "whatsapp",
		ShareOfDaily: 0.10,
	},
	TypeBrandAwareness: {
		Type:         TypeBrandAwareness,
		Label:        "Brand awareness",
		Platform:     "meta",
		ShareOfDaily: 0.10,
	},
}

// allocationKey maps a connector platform to its budget allocation key
// in the plan.
var allocationKey = map[string]string{
	"googleAds": "google",
	"meta":      "meta",
	"whatsapp":  "whatsapp",
	"email":     "email",
}

// splitKey maps a connector platform to its key in the budget
// section's platformSplit.
var splitKey = map[string]string{
	"googleAds": "google",
	"meta":      "meta",
	"whatsapp":  "whatsapp",
	"email":     "emailSms",
}

// typesForGoals picks the campaign set a run should launch. Lead
// generation gets the full funnel; narrower goals get a narrower set.
func typesForGoals(goals []string) []string {
	seen := make(map[string]bool)
	var types []string
	add := func(keys ...string) {
		for _, key := range keys {
			if !seen[key] {
				seen[key] = true
				types = append(types, key)
			}
		}
	}
	for _, goal := range goals {
		switch goal {
		case "lead_generation":
			add(TypeLeadGenSearch, TypeLeadGenSocial, TypeRemarketing, TypeWhatsAppNurture)
		case "brand_awareness":
			add(TypeBrandAwareness)
		case "site_visits":
			add(TypeLeadGenSearch, TypeBrandAwareness)
		case "referrals":
			add(TypeWhatsAppNurture)
		}
	}
	if len(types) == 0 {
		add(TypeLeadGenSearch, TypeLeadGenSocial)
	}
	return types
}

// CatalogSpecs returns the launchable campaign types in a stable order.
func CatalogSpecs() []CampaignSpec {
	return []CampaignSpec{
		campaignCatalog[TypeLeadGenSearch],
		campaignCatalog[TypeLeadGenSocial],
		campaignCatalog[TypeRemarketing],
		campaignCatalog[TypeWhatsAppNurture],
		campaignCatalog[TypeBrandAwareness],
	}
}
