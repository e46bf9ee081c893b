package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	u := &User{Email: "  Admin@Example.COM "}
	assert.NoError(t, u.Validate())
	assert.Equal(t, "admin@example.com", u.Email)
	assert.Equal(t, UserStatusActive, u.Status)
	assert.Equal(t, RoleEditor, u.Role)

	assert.Error(t, (&User{Email: "   "}).Validate())
}

func TestActive(t *testing.T) {
	assert.True(t, (&User{Status: UserStatusActive}).Active())
	assert.False(t, (&User{Status: UserStatusDisabled}).Active())
	var u *User
	assert.False(t, u.Active())
}
