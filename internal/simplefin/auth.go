package simplefin

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// credentials is the state file written after a setup token is claimed.
// Setup tokens are single use, so losing this file means issuing a new one.
type credentials struct {
	AccessURL string    `json:"access_url"`
	ClaimedAt time.Time `json:"claimed_at"`
	// TokenSHA identifies the setup token without storing it.
	TokenSHA string `json:"token_sha256"`
}

// resolveAccessURL returns the saved access URL from stateFile, claiming token
// first when nothing usable is saved.
func resolveAccessURL(ctx context.Context, client *http.Client, token, stateFile string) (string, error) {
	saved, err := readCredentials(stateFile)
	switch {
	case err == nil && saved.AccessURL != "":
		slog.Info("Using saved SimpleFIN access URL",
			"claimed_at", saved.ClaimedAt.Format(time.DateOnly),
			"state_file", stateFile)
		return saved.AccessURL, nil
	case err != nil && !errors.Is(err, os.ErrNotExist):
		slog.Warn("Ignoring unreadable SimpleFIN state file", "state_file", stateFile, "error", err)
	}

	if token == "" {
		return "", fmt.Errorf("no saved SimpleFIN access in %s and no setup token given", stateFile)
	}

	slog.Info("Claiming SimpleFIN setup token", "token", tokenFingerprint(token))
	access, err := claim(ctx, client, token)
	if err != nil {
		return "", fmt.Errorf("failed to claim token: %w", err)
	}

	creds := credentials{AccessURL: access, ClaimedAt: time.Now().UTC(), TokenSHA: tokenFingerprint(token)}
	if err := writeCredentials(stateFile, creds); err != nil {
		return "", fmt.Errorf("failed to save auth state: %w", err)
	}
	slog.Info("Saved SimpleFIN access URL", "state_file", stateFile)
	return access, nil
}

// claim decodes the base64 claim URL in token and POSTs to it; the bridge
// answers with the access URL.
func claim(ctx context.Context, client *http.Client, token string) (string, error) {
	token = strings.TrimSpace(token)
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		if decoded, err = base64.URLEncoding.DecodeString(token); err != nil {
			return "", fmt.Errorf("failed to decode SimpleFIN token: %w", err)
		}
	}

	claimURL, err := httpURL(string(decoded))
	if err != nil {
		return "", fmt.Errorf("decoded token is not a valid URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claimURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create claim request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("claim request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read claim response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("claim rejected (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	access, err := httpURL(string(body))
	if err != nil {
		return "", fmt.Errorf("bridge returned an invalid access URL: %w", err)
	}
	return access, nil
}

func httpURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%q is not an http(s) URL", raw)
	}
	return raw, nil
}

func readCredentials(path string) (credentials, error) {
	var creds credentials
	data, err := os.ReadFile(path) // #nosec G304 -- operator-configured path
	if err != nil {
		return creds, err
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return creds, nil
}

// writeCredentials replaces path atomically with owner-only permissions.
func writeCredentials(path string, creds credentials) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".simplefin-*.json")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func tokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:6])
}
