package authctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"portfolio-cms/backend/internal/security"
)

func TestWithPrincipal_RoundTrip(t *testing.T) {
	p := Principal{UserID: "u1", Role: "editor", SessionID: "s1", Permissions: []string{"posts:write"}}
	ctx := WithPrincipal(context.Background(), p)

	got, ok := PrincipalFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, p, got)

	uid, ok := UserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", uid)

	sid, ok := SessionID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "s1", sid)
}

func TestPrincipalFrom_Empty(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)
	_, ok = UserID(context.Background())
	assert.False(t, ok)
	_, ok = SessionID(WithPrincipal(context.Background(), Principal{UserID: "u1"}))
	assert.False(t, ok)
}

func TestFromClaims_CopiesPermissions(t *testing.T) {
	claims := &security.AccessClaims{UserID: "u1", Role: "editor", SessionID: "s1", IPAddress: "10.0.0.1", Permissions: []string{"a"}}
	p := FromClaims(claims)
	claims.Permissions[0] = "b"

	assert.Equal(t, []string{"a"}, p.Permissions)
	assert.Equal(t, "10.0.0.1", p.IPAddress)
}

func TestHasPermission(t *testing.T) {
	assert.True(t, Principal{Role: "admin"}.HasPermission("anything"))
	assert.True(t, Principal{Role: "editor", Permissions: []string{"posts:write"}}.HasPermission("posts:write"))
	assert.False(t, Principal{Role: "editor"}.HasPermission("posts:write"))
}
