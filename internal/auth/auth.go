// Package auth provides the access tokens used by the remote clients.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"homehealth-sync-service/internal/config"
	"homehealth-sync-service/internal/logger"
)

// Scopes requested for the patient sheet and the calendar.
var Scopes = []string{
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/calendar.events",
}

// Provider hands out bearer tokens from an oauth2.TokenSource. A provider
// without a source is signed out.
type Provider struct {
	mu        sync.Mutex
	oauth     *oauth2.Config
	tokenFile string
	src       oauth2.TokenSource
	lastToken string
}

// Static returns a provider that always yields token.
func Static(token string) *Provider {
	return &Provider{src: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})}
}

// New builds the provider described by cfg. A static token wins over the
// token file; a missing token file leaves the provider signed out.
func New(cfg config.AuthConfig) (*Provider, error) {
	if cfg.StaticToken != "" {
		return Static(cfg.StaticToken), nil
	}

	p := &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
			Scopes:       Scopes,
		},
		tokenFile: cfg.TokenFile,
	}
	if cfg.TokenFile == "" {
		return p, nil
	}

	tok, err := loadToken(cfg.TokenFile)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Log.Info("No stored token, starting signed out", zap.String("token_file", cfg.TokenFile))
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	p.src = p.sourceFor(tok)
	return p, nil
}

func (p *Provider) sourceFor(tok *oauth2.Token) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(tok, p.oauth.TokenSource(context.Background(), tok))
}

// AccessToken returns a valid token, refreshing it when needed. It returns
// "" and no error when signed out.
func (p *Provider) AccessToken(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.src == nil {
		return "", nil
	}
	tok, err := p.src.Token()
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if tok.AccessToken != p.lastToken {
		p.lastToken = tok.AccessToken
		p.persist(tok)
	}
	return tok.AccessToken, nil
}

func (p *Provider) IsSignedIn(ctx context.Context) bool {
	token, err := p.AccessToken(ctx)
	return err == nil && token != ""
}

// SignIn installs tok and stores it in the token file when one is configured.
func (p *Provider) SignIn(tok *oauth2.Token) error {
	if tok == nil || (tok.AccessToken == "" && tok.RefreshToken == "") {
		return errors.New("token has neither access nor refresh token")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.oauth == nil {
		p.src = oauth2.StaticTokenSource(tok)
	} else {
		p.src = p.sourceFor(tok)
	}
	p.lastToken = tok.AccessToken
	if p.tokenFile != "" {
		if err := saveToken(p.tokenFile, tok); err != nil {
			return err
		}
	}
	return nil
}

// SignOut forgets the token and removes the token file.
func (p *Provider) SignOut() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.src = nil
	p.lastToken = ""
	if p.tokenFile == "" {
		return nil
	}
	if err := os.Remove(p.tokenFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

func (p *Provider) persist(tok *oauth2.Token) {
	if p.tokenFile == "" || p.oauth == nil {
		return
	}
	if err := saveToken(p.tokenFile, tok); err != nil {
		logger.Log.Warn("Failed to store refreshed token", zap.Error(err))
	}
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", path, err)
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return os.Rename(tmp, path)
}
