package domain

import "time"

type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

func (e Environment) Valid() bool {
	return e == EnvironmentSandbox || e == EnvironmentProduction
}

// GatewayCredential is a landlord's own merchant account on the mobile-money
// gateway. There is at most one per landlord.
type GatewayCredential struct {
	LandlordID     string      `json:"landlordId" validate:"required"`
	Shortcode      string      `json:"shortcode" validate:"required,numeric"`
	Passkey        string      `json:"passkey" validate:"required"`
	ConsumerKey    string      `json:"consumerKey" validate:"required"`
	ConsumerSecret string      `json:"consumerSecret" validate:"required"`
	Environment    Environment `json:"environment" validate:"required,oneof=sandbox production"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// CacheKey identifies the token issued for this credential set. Tokens are
// never shared across landlords or environments.
func (c *GatewayCredential) CacheKey() string {
	return c.LandlordID + ":" + string(c.Environment)
}

// AccessToken is a short-lived bearer token. It is only ever held in the
// token cache, never in durable storage.
type AccessToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (t AccessToken) ValidAt(now time.Time) bool {
	return t.Token != "" && now.Before(t.ExpiresAt)
}
