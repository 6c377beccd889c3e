package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iderrors "github.com/mboberg/identistore/errors"
)

func TestNew_NormalizesName(t *testing.T) {
	u := New("Testuser")

	assert.Equal(t, "testuser", u.UserName)
}

func TestRevision_UnpersistedIsOne(t *testing.T) {
	// Given: a record that has never been written
	u := New("testuser")

	// Then: it presents revision 1 until the store assigns a version
	assert.Equal(t, int64(1), u.Revision())

	// And: a store-assigned version wins
	u.Version = 7
	assert.Equal(t, int64(7), u.Revision())
}

func TestSetEmail_LowercasesAndResetsConfirmation(t *testing.T) {
	u := New("testuser")

	u.SetEmail("Hello@World.COM")
	require.NotNil(t, u.Email)
	assert.Equal(t, "hello@world.com", u.EmailAddress())
	assert.False(t, u.Email.Confirmed)

	require.NoError(t, u.ConfirmEmail())
	assert.True(t, u.Email.Confirmed)

	// Changing the address resets the confirmation.
	u.SetEmail("other@world.com")
	assert.False(t, u.Email.Confirmed)

	// Clearing removes the email entirely.
	u.SetEmail("")
	assert.Nil(t, u.Email)
	assert.Equal(t, "", u.EmailAddress())
}

func TestConfirmEmail_WithoutEmailFails(t *testing.T) {
	u := New("testuser")

	err := u.ConfirmEmail()

	require.Error(t, err)
	assert.True(t, iderrors.IsCode(err, iderrors.ErrCodeInvalidArgument))
}

func TestPhone_SetAndConfirm(t *testing.T) {
	u := New("testuser")

	assert.Error(t, u.ConfirmPhoneNumber())

	u.SetPhoneNumber("555 123 1234")
	assert.Equal(t, "555 123 1234", u.PhoneNumber())
	require.NoError(t, u.ConfirmPhoneNumber())
	assert.True(t, u.Phone.Confirmed)

	u.SetPhoneNumber("")
	assert.Nil(t, u.Phone)
}

func TestLogins_RemoveByExactMatch(t *testing.T) {
	// Given: duplicate login pairs and a near-miss
	u := New("testuser")
	u.AddLogin("google", "key-1")
	u.AddLogin("google", "key-1")
	u.AddLogin("google", "key-2")

	// When: removing one pair
	u.RemoveLogin("google", "key-1")

	// Then: every exact match is gone, the near-miss stays
	require.Len(t, u.Logins, 1)
	assert.Equal(t, LoginInfo{Provider: "google", ProviderKey: "key-2"}, u.Logins[0])
}

func TestClaims_SetSemantics(t *testing.T) {
	u := New("testuser")
	c := Claim{Type: "scope", Value: "admin"}

	u.AddClaim(c)
	u.AddClaim(c) // equal claim is not duplicated
	require.Len(t, u.Claims, 1)

	u.AddClaim(Claim{Type: "scope", Value: "admin", Issuer: "other"})
	assert.Len(t, u.Claims, 2)

	u.RemoveClaim(c)
	require.Len(t, u.Claims, 1)
	assert.Equal(t, "other", u.Claims[0].Issuer)
}

func TestRoles_SetSemantics(t *testing.T) {
	u := New("testuser")

	u.AddToRole("admin")
	u.AddToRole("admin")
	require.Len(t, u.Roles, 1)
	assert.True(t, u.IsInRole("admin"))
	assert.False(t, u.IsInRole("auditor"))

	u.RemoveFromRole("admin")
	assert.False(t, u.IsInRole("admin"))
	assert.Nil(t, u.Roles)
}

func TestHasPassword(t *testing.T) {
	u := New("testuser")
	assert.False(t, u.HasPassword())

	u.PasswordHash = "opaque-hash"
	assert.True(t, u.HasPassword())
}
