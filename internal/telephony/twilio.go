// Package telephony places outbound calls through Twilio so the agent can
// dial a patient instead of waiting for a local microphone session.
package telephony

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Config holds Twilio credentials and the caller number.
type Config struct {
	AccountSID string
	AuthToken  string
	From       string
}

// Dialer places outbound calls.
type Dialer struct {
	cfg    Config
	client *twilio.RestClient
	log    zerolog.Logger
}

// NewDialer creates a dialer from account credentials.
func NewDialer(cfg Config, log zerolog.Logger) *Dialer {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Dialer{cfg: cfg, client: client, log: log}
}

// Call dials the given number and points the call at the agent's media
// webhook. Returns the call SID.
func (d *Dialer) Call(to, webhookURL string) (string, error) {
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
		return "", fmt.Errorf("telephony: Twilio credentials not configured")
	}
	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(d.cfg.From)
	params.SetUrl(webhookURL)

	resp, err := d.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("telephony: create call to %s: %w", to, err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	d.log.Info().Str("to", to).Str("call_sid", sid).Msg("outbound call placed")
	return sid, nil
}
