package processor

// CredentialField declares one field a platform needs to connect.
type CredentialField struct {
	Key      string
	Label    string
	Secret   bool
	Required bool
}

// Platform keys for the connector registry.
const (
	PlatformMeta      = "meta"
	PlatformGoogleAds = "googleAds"
	PlatformWhatsApp  = "whatsapp"
	PlatformEmail     = "email"
)

// PlatformKeys lists every supported platform in display order.
var PlatformKeys = []string{PlatformMeta, PlatformGoogleAds, PlatformWhatsApp, PlatformEmail}

var platformCatalog = map[string][]CredentialField{
	PlatformMeta: {
		{Key: "accessToken", Label: "Access token", Secret: true, Required: true},
		{Key: "adAccountId", Label: "Ad account ID", Required: true},
		{Key: "pageId", Label: "Page ID", Required: true},
		{Key: "pixelId", Label: "Pixel ID"},
	},
	PlatformGoogleAds: {
		{Key: "developerToken", Label: "Developer token", Secret: true, Required: true},
		{Key: "clientId", Label: "OAuth client ID", Required: true},
		{Key: "clientSecret", Label: "OAuth client secret", Secret: true, Required: true},
		{Key: "refreshToken", Label: "Refresh token", Secret: true, Required: true},
		{Key: "customerId", Label: "Customer ID", Required: true},
	},
	PlatformWhatsApp: {
		{Key: "accountSid", Label: "Account SID", Required: true},
		{Key: "authToken", Label: "Auth token", Secret: true, Required: true},
		{Key: "whatsappNumber", Label: "WhatsApp number", Required: true},
	},
	PlatformEmail: {
		{Key: "apiKey", Label: "API key", Secret: true, Required: true},
		{Key: "fromEmail", Label: "Sender address", Required: true},
		{Key: "fromName", Label: "Sender name"},
	},
}

// PlatformFields returns the credential schema for a platform.
func PlatformFields(platform string) ([]CredentialField, bool) {
	fields, ok := platformCatalog[platform]
	return fields, ok
}

func isSecretField(platform, key string) bool {
	for _, field := range platformCatalog[platform] {
		if field.Key == key {
			return field.Secret
		}
	}
	return false
}
