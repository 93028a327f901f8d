package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/sheets/v4"
)

// tokenSource returns service account credentials when a key file is
// configured, otherwise an OAuth2 refresh flow. With a TokenFile the saved
// token wins over the configured refresh token and refreshed tokens are
// written back.
func tokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	if cfg.ServiceAccountPath != "" {
		key, err := os.ReadFile(cfg.ServiceAccountPath) // #nosec G304 -- operator-configured path
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}
		jwt, err := google.JWTConfigFromJSON(key, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		return jwt.TokenSource(ctx), nil
	}

	oauth := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{sheets.SpreadsheetsScope},
	}
	seed := &oauth2.Token{RefreshToken: cfg.RefreshToken, TokenType: "Bearer"}
	if cfg.TokenFile == "" {
		return oauth.TokenSource(ctx, seed), nil
	}

	saved, err := readToken(cfg.TokenFile)
	switch {
	case err == nil:
		seed = saved
	case cfg.RefreshToken == "":
		return nil, fmt.Errorf("unable to load token file %s: %w", cfg.TokenFile, err)
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("No saved token, using configured refresh token", "file", cfg.TokenFile)
	default:
		slog.Warn("Ignoring unreadable token file", "file", cfg.TokenFile, "error", err)
	}

	return &persistedSource{
		src:  oauth.TokenSource(ctx, seed),
		path: cfg.TokenFile,
		seen: seed.AccessToken,
	}, nil
}

// persistedSource writes every newly issued access token to path.
type persistedSource struct {
	src  oauth2.TokenSource
	path string

	mu   sync.Mutex
	seen string
}

func (p *persistedSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken == p.seen {
		return tok, nil
	}
	p.seen = tok.AccessToken
	if err := writeToken(p.path, tok); err != nil {
		slog.Warn("Failed to save refreshed token", "error", err, "file", p.path)
	}
	return tok, nil
}

func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-configured path
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &tok, nil
}

func writeToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}
