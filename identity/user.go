// Package identity defines the versioned user record stored by the
// repository, along with its in-memory attribute mutators.
//
// Mutators never touch the store: they edit the record in memory and
// the caller persists the result with a subsequent userstore.Update.
// Plain fields without behavior (PasswordHash, SecurityStamp,
// TwoFactorEnabled, lockout bookkeeping) are mutated directly.
package identity

import (
	"time"

	iderrors "github.com/mboberg/identistore/errors"
	"github.com/mboberg/identistore/internal/normalize"
)

// Email is an optional email address with its confirmation state.
type Email struct {
	Address   string `json:"address"`
	Confirmed bool   `json:"confirmed,omitempty"`
}

// Phone is an optional phone number with its confirmation state.
type Phone struct {
	Number    string `json:"number"`
	Confirmed bool   `json:"confirmed,omitempty"`
}

// LoginInfo is an external login pair. Duplicates are allowed and are
// removed by exact (provider, key) match.
type LoginInfo struct {
	Provider    string `json:"provider"`
	ProviderKey string `json:"providerKey"`
}

// Claim is a claim record, unique on the user by value equality.
type Claim struct {
	Type   string `json:"type"`
	Value  string `json:"value"`
	Issuer string `json:"issuer,omitempty"`
}

// User is the identity record. ID and Version are document metadata
// assigned by the store and are excluded from the serialized body: the
// store patches them back onto the record after every read and write.
type User struct {
	ID      string `json:"-"`
	Version int64  `json:"-"`

	// UserName is the lowercase-invariant projection of the chosen
	// name. Assign through SetUserName to keep the invariant.
	UserName string `json:"userName"`

	PasswordHash  string `json:"passwordHash,omitempty"`
	SecurityStamp string `json:"securityStamp,omitempty"`

	Logins []LoginInfo `json:"logins,omitempty"`
	Claims []Claim     `json:"claims,omitempty"`
	Roles  []string    `json:"roles,omitempty"`

	Email *Email `json:"email,omitempty"`
	Phone *Phone `json:"phone,omitempty"`

	LockoutEndDate    time.Time `json:"lockoutEndDate,omitzero"`
	AccessFailedCount int       `json:"accessFailedCount"`
	Enabled           bool      `json:"enabled"`

	TwoFactorEnabled bool `json:"twoFactorEnabled"`
}

// New creates an unpersisted user with the given name, normalized.
func New(name string) *User {
	u := &User{}
	u.SetUserName(name)
	return u
}

// Revision returns the version to present on the next write. A record
// that has never been written has no store-assigned version yet and is
// treated as revision 1.
func (u *User) Revision() int64 {
	if u.Version == 0 {
		return 1
	}
	return u.Version
}

// SetUserName stores the lowercase-invariant projection of name.
func (u *User) SetUserName(name string) {
	u.UserName = normalize.Key(name)
}

// EmailAddress returns the email address or "" when none is configured.
func (u *User) EmailAddress() string {
	if u.Email == nil {
		return ""
	}
	return u.Email.Address
}

// SetEmail replaces the email address, lowercased, resetting the
// confirmation state. An empty address clears the email entirely.
func (u *User) SetEmail(address string) {
	if address == "" {
		u.Email = nil
		return
	}
	u.Email = &Email{Address: normalize.Key(address)}
}

// ConfirmEmail marks the configured email address as confirmed.
// Fails when the user has no email address configured.
func (u *User) ConfirmEmail() error {
	if u.Email == nil {
		return iderrors.InvalidArgument("user has no configured email address")
	}
	u.Email.Confirmed = true
	return nil
}

// PhoneNumber returns the phone number or "" when none is configured.
func (u *User) PhoneNumber() string {
	if u.Phone == nil {
		return ""
	}
	return u.Phone.Number
}

// SetPhoneNumber replaces the phone number, resetting the confirmation
// state. An empty number clears the phone entirely.
func (u *User) SetPhoneNumber(number string) {
	if number == "" {
		u.Phone = nil
		return
	}
	u.Phone = &Phone{Number: number}
}

// ConfirmPhoneNumber marks the configured phone number as confirmed.
// Fails when the user has no phone number configured.
func (u *User) ConfirmPhoneNumber() error {
	if u.Phone == nil {
		return iderrors.InvalidArgument("user has no configured phone number")
	}
	u.Phone.Confirmed = true
	return nil
}

// HasPassword reports whether a password hash is set.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// AddLogin appends an external login pair. Duplicates are not
// deduplicated; RemoveLogin removes every exact match.
func (u *User) AddLogin(provider, providerKey string) {
	u.Logins = append(u.Logins, LoginInfo{Provider: provider, ProviderKey: providerKey})
}

// RemoveLogin removes all logins matching (provider, providerKey)
// exactly.
func (u *User) RemoveLogin(provider, providerKey string) {
	kept := u.Logins[:0]
	for _, l := range u.Logins {
		if l.Provider != provider || l.ProviderKey != providerKey {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		u.Logins = nil
		return
	}
	u.Logins = kept
}

// AddClaim adds a claim unless an equal claim is already present.
func (u *User) AddClaim(c Claim) {
	for _, existing := range u.Claims {
		if existing == c {
			return
		}
	}
	u.Claims = append(u.Claims, c)
}

// RemoveClaim removes the claim equal to c, if present.
func (u *User) RemoveClaim(c Claim) {
	for i, existing := range u.Claims {
		if existing == c {
			u.Claims = append(u.Claims[:i], u.Claims[i+1:]...)
			if len(u.Claims) == 0 {
				u.Claims = nil
			}
			return
		}
	}
}

// AddToRole adds the role unless the user already has it.
func (u *User) AddToRole(role string) {
	if u.IsInRole(role) {
		return
	}
	u.Roles = append(u.Roles, role)
}

// RemoveFromRole removes the role, if present.
func (u *User) RemoveFromRole(role string) {
	for i, r := range u.Roles {
		if r == role {
			u.Roles = append(u.Roles[:i], u.Roles[i+1:]...)
			if len(u.Roles) == 0 {
				u.Roles = nil
			}
			return
		}
	}
}

// IsInRole reports whether the user has the role.
func (u *User) IsInRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
