package processor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"marketing-server/internal/clients/messaging"
)

// Prober checks whether a platform's credentials actually work. Swapped
// for a stub in tests.
type Prober interface {
	Probe(ctx context.Context, platform string, creds map[string]string) error
}

var (
	metaAdAccountPattern  = regexp.MustCompile(`^act_\d+$`)
	googleCustomerPattern = regexp.MustCompile(`^\d{3}-\d{3}-\d{4}$`)
	emailPattern          = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// LiveProber validates WhatsApp credentials against the provider and
// applies shape checks for the platforms that have no cheap probe
// endpoint.
type LiveProber struct {
	messaging *messaging.TwilioClient
}

func NewLiveProber(messagingClient *messaging.TwilioClient) *LiveProber {
	return &LiveProber{messaging: messagingClient}
}

func (p *LiveProber) Probe(ctx context.Context, platform string, creds map[string]string) error {
	switch platform {
	case PlatformMeta:
		if len(creds["accessToken"]) < 20 {
			return fmt.Errorf("access token looks too short to be valid")
		}
		if !metaAdAccountPattern.MatchString(creds["adAccountId"]) {
			return fmt.Errorf("ad account ID must look like act_1234567890")
		}
		return nil
	case PlatformGoogleAds:
		if !googleCustomerPattern.MatchString(creds["customerId"]) {
			return fmt.Errorf("customer ID must look like 123-456-7890")
		}
		if len(creds["developerToken"]) < 10 {
			return fmt.Errorf("developer token looks too short to be valid")
		}
		return nil
	case PlatformWhatsApp:
		if !strings.HasPrefix(creds["accountSid"], "AC") {
			return fmt.Errorf("account SID must start with AC")
		}
		return p.messaging.VerifyCredentials(ctx, creds["accountSid"], creds["authToken"])
	case PlatformEmail:
		if !strings.HasPrefix(creds["apiKey"], "re_") {
			return fmt.Errorf("API key must start with re_")
		}
		if !emailPattern.MatchString(creds["fromEmail"]) {
			return fmt.Errorf("sender address is not a valid email")
		}
		return nil
	default:
		return fmt.Errorf("no probe for platform %s", platform)
	}
}
