package messaging

import (
	"context"
	"fmt"
	"strings"

	"marketing-server/internal/observability"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioClient sends WhatsApp messages and validates Twilio credentials.
type TwilioClient struct {
	client *twilio.RestClient
	from   string
	logger *observability.Logger
}

func NewTwilioClient(accountSID, authToken, whatsAppFrom string, logger *observability.Logger) *TwilioClient {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioClient{
		client: client,
		from:   whatsAppFrom,
		logger: logger,
	}
}

// SendWhatsApp delivers one WhatsApp message and returns the message SID.
func (c *TwilioClient) SendWhatsApp(ctx context.Context, to, body string) (string, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "whatsapp_to", Value: to},
	)

	params := &api.CreateMessageParams{}
	params.SetTo(whatsAppAddress(to))
	params.SetFrom(whatsAppAddress(c.from))
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		c.logger.Error(ctx, "failed to send whatsapp message", err)
		return "", fmt.Errorf("failed to send whatsapp message: %w", err)
	}

	c.logger.Info(ctx, "whatsapp message sent")
	if resp.Sid != nil {
		return *resp.Sid, nil
	}
	return "", nil
}

// VerifyCredentials checks that an account SID and auth token can authenticate
// against the Twilio API. Used by the connector connectivity probe.
func (c *TwilioClient) VerifyCredentials(ctx context.Context, accountSID, authToken string) error {
	probe := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	if _, err := probe.Api.FetchAccount(accountSID); err != nil {
		c.logger.Error(ctx, "twilio credential check failed", err)
		return fmt.Errorf("twilio credential check failed: %w", err)
	}
	return nil
}

func whatsAppAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
