package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"homehealth-sync-service/internal/config"
	"homehealth-sync-service/internal/remote"
)

var _ remote.Auth = (*Provider)(nil)

func TestStatic(t *testing.T) {
	t.Parallel()

	p := Static("abc")
	tok, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	assert.True(t, p.IsSignedIn(context.Background()))
}

func TestMissingTokenFileStartsSignedOut(t *testing.T) {
	t.Parallel()

	p, err := New(config.AuthConfig{TokenFile: filepath.Join(t.TempDir(), "token.json")})
	require.NoError(t, err)

	tok, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.False(t, p.IsSignedIn(context.Background()))
}

func TestSignInPersistsAndSignOutRemoves(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "token.json")
	p, err := New(config.AuthConfig{TokenFile: path, TokenURL: "http://127.0.0.1:0/token"})
	require.NoError(t, err)

	err = p.SignIn(&oauth2.Token{AccessToken: "live", Expiry: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, p.IsSignedIn(context.Background()))
	assert.FileExists(t, path)

	reloaded, err := New(config.AuthConfig{TokenFile: path, TokenURL: "http://127.0.0.1:0/token"})
	require.NoError(t, err)
	tok, err := reloaded.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live", tok)

	require.NoError(t, p.SignOut())
	assert.False(t, p.IsSignedIn(context.Background()))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSignInRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	assert.Error(t, Static("x").SignIn(&oauth2.Token{}))
}

func TestStaticConfigWins(t *testing.T) {
	t.Parallel()

	p, err := New(config.AuthConfig{StaticToken: "s", TokenFile: "/nonexistent/token.json"})
	require.NoError(t, err)
	tok, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s", tok)
}
