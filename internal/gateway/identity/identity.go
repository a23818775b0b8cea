// Package identity carries the resolved caller context the admission-control
// engine keys on.
//
// An Identity is produced by an external credential store and is read-only to
// the engine: credential, user, team, and end-customer identifiers are each
// optional, and every scope carries its own LimitSet. The engine never
// defaults an absent identifier to a shared bucket; a missing identifier
// means that scope is simply not evaluated.
package identity

import (
	"github.com/ahrav/go-llmgate/internal/gateway/configuration"
)

// Identity is the resolved caller context for one request.
type Identity struct {
	// CredentialID identifies the API credential (hashed key id).
	CredentialID string `json:"credential_id,omitempty"`

	// UserID identifies the internal user owning the credential.
	UserID string `json:"user_id,omitempty"`

	// TeamID identifies the team the credential belongs to.
	TeamID string `json:"team_id,omitempty"`

	// CustomerID identifies the end customer supplied per request.
	CustomerID string `json:"customer_id,omitempty"`

	// KeyLimits applies to the credential scope. Its ModelLimits map supplies
	// explicit per-model overrides for the (credential, model) scope.
	KeyLimits configuration.LimitSet `json:"key_limits,omitempty"`

	// UserLimits applies to the user scope.
	UserLimits configuration.LimitSet `json:"user_limits,omitempty"`

	// TeamLimits applies to the team scope.
	TeamLimits configuration.LimitSet `json:"team_limits,omitempty"`

	// CustomerLimits applies to the end-customer scope.
	CustomerLimits configuration.LimitSet `json:"customer_limits,omitempty"`
}

// WithCustomer returns a copy of the identity with the end-customer
// identifier set. The original is left untouched; resolver outputs may be
// shared across requests.
func (id *Identity) WithCustomer(customerID string) *Identity {
	clone := *id
	clone.CustomerID = customerID
	return &clone
}

// Validate checks every configured LimitSet eagerly, surfacing malformed
// limits as ConfigError before the identity is ever used for admission.
func (id *Identity) Validate() error {
	if err := id.KeyLimits.Validate(); err != nil {
		return err
	}
	if err := id.UserLimits.Validate(); err != nil {
		return err
	}
	if err := id.TeamLimits.Validate(); err != nil {
		return err
	}
	return id.CustomerLimits.Validate()
}
