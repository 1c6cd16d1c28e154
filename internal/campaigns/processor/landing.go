package processor

import (
	"context"
	"fmt"
	"strings"

	"marketing-server/internal/store"
)

const (
	LandingModeExisting = "existing"
	LandingModeAuto     = "auto"
)

// LandingOptions is the caller's landing page choice for a launch.
// Mode existing points campaigns at a page the business already has,
// mode auto always generates one seeded with the supplied copy fields.
// An empty mode lets the pipeline decide from the business settings.
type LandingOptions struct {
	Mode     string
	URL      string
	Headline string
	Offer    string
	CTA      string
	Contact  string
}

// buildLandingPrompt asks the copy model for landing page content for
// one campaign.
func buildLandingPrompt(companyName string, spec CampaignSpec, inputs store.RunInputs, opts LandingOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write landing page copy for %s, a rooftop solar installation company in India.\n", companyName)
	fmt.Fprintf(&b, "The page receives traffic from a %q campaign.\n", spec.Label)
	if len(inputs.Regions) > 0 {
		fmt.Fprintf(&b, "Service regions: %s.\n", strings.Join(inputs.Regions, ", "))
	}
	if len(inputs.Languages) > 0 {
		fmt.Fprintf(&b, "Primary languages: %s.\n", strings.Join(inputs.Languages, ", "))
	}
	if opts.Headline != "" {
		fmt.Fprintf(&b, "Preferred headline: %s\n", opts.Headline)
	}
	if opts.Offer != "" {
		fmt.Fprintf(&b, "Lead offer: %s\n", opts.Offer)
	}
	if opts.CTA != "" {
		fmt.Fprintf(&b, "Call to action: %s\n", opts.CTA)
	}
	if opts.Contact != "" {
		fmt.Fprintf(&b, "Contact details to include: %s\n", opts.Contact)
	}
	b.WriteString("Include: a headline, three benefit bullets focused on electricity bill savings and subsidies, and a call to action for a free site survey. Plain text, no markdown.\n")
	return b.String()
}

// fallbackLandingCopy is used when the copy model is unavailable. The
// launch must not fail because of a copywriting outage.
func fallbackLandingCopy(companyName string, spec CampaignSpec) string {
	if companyName == "" {
		companyName = "our team"
	}
	return fmt.Sprintf(
		"Cut your electricity bill with rooftop solar from %s.\n"+
			"- Save up to 90%% on your monthly electricity bill\n"+
			"- Government subsidy support handled end to end\n"+
			"- 25-year panel performance warranty\n"+
			"Book a free site survey today.",
		companyName)
}

// landingFor resolves the landing reference for a campaign. The caller's
// options win; with no mode set, an existing business website is reused
// and anything else gets a generated page with model-written copy.
func (p *Processor) landingFor(ctx context.Context, spec CampaignSpec, inputs store.RunInputs, campaignSlug string, opts LandingOptions) (store.CampaignLanding, string) {
	companyName, website := p.businessIdentity(ctx)

	switch opts.Mode {
	case LandingModeExisting:
		url := opts.URL
		if url == "" {
			url = website
		}
		return store.CampaignLanding{Type: LandingModeExisting, URL: url}, ""
	case LandingModeAuto:
		// Always generate, even when a website is configured.
	default:
		if website != "" {
			return store.CampaignLanding{Type: LandingModeExisting, URL: website}, ""
		}
	}

	copyText, err := p.generator.GenerateText(ctx, buildLandingPrompt(companyName, spec, inputs, opts))
	if err != nil || strings.TrimSpace(copyText) == "" {
		if err != nil {
			p.logger.Warn(ctx, "landing copy generation failed, using template")
		}
		copyText = fallbackLandingCopy(companyName, spec)
	}
	return store.CampaignLanding{Type: LandingModeAuto, URL: "/l/" + campaignSlug}, copyText
}

// businessIdentity pulls the company name and website from settings.
// Missing settings degrade to blanks rather than failing a launch.
func (p *Processor) businessIdentity(ctx context.Context) (name, website string) {
	view, err := p.settings.ReadSection(ctx, "business")
	if err != nil {
		p.logger.Warn(ctx, "could not read business settings for landing")
		return "", ""
	}
	name, _ = view.Data["companyName"].(string)
	website, _ = view.Data["website"].(string)
	return name, website
}
