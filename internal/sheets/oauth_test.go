package sheets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type countingSource struct {
	tokens []string
	calls  int
}

func (c *countingSource) Token() (*oauth2.Token, error) {
	tok := &oauth2.Token{AccessToken: c.tokens[min(c.calls, len(c.tokens)-1)], TokenType: "Bearer"}
	c.calls++
	return tok, nil
}

func TestPersistedSourceWritesNewTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens", "sheets.json")
	src := &persistedSource{src: &countingSource{tokens: []string{"first", "first", "second"}}, path: path}

	_, err := src.Token()
	require.NoError(t, err)
	saved, err := readToken(path)
	require.NoError(t, err)
	assert.Equal(t, "first", saved.AccessToken)

	require.NoError(t, os.Remove(path))
	_, err = src.Token()
	require.NoError(t, err)
	assert.NoFileExists(t, path, "an unchanged token is not rewritten")

	_, err = src.Token()
	require.NoError(t, err)
	saved, err = readToken(path)
	require.NoError(t, err)
	assert.Equal(t, "second", saved.AccessToken)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestTokenSourceWithTokenFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := tokenSource(ctx, Config{ClientID: "id", ClientSecret: "secret", TokenFile: filepath.Join(dir, "missing.json")})
	assert.ErrorContains(t, err, "unable to load token file")

	ts, err := tokenSource(ctx, Config{
		ClientID: "id", ClientSecret: "secret", RefreshToken: "refresh",
		TokenFile: filepath.Join(dir, "missing.json"),
	})
	require.NoError(t, err)
	assert.IsType(t, &persistedSource{}, ts)

	path := filepath.Join(dir, "saved.json")
	require.NoError(t, writeToken(path, &oauth2.Token{AccessToken: "cached", RefreshToken: "r"}))
	ts, err = tokenSource(ctx, Config{ClientID: "id", ClientSecret: "secret", TokenFile: path})
	require.NoError(t, err)
	assert.Equal(t, "cached", ts.(*persistedSource).seen)
}

func TestTokenSourceServiceAccountErrors(t *testing.T) {
	_, err := tokenSource(context.Background(), Config{ServiceAccountPath: filepath.Join(t.TempDir(), "nope.json")})
	assert.ErrorContains(t, err, "unable to read service account key file")

	bad := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"type":"authorized_user"}`), 0o600))
	_, err = tokenSource(context.Background(), Config{ServiceAccountPath: bad})
	assert.ErrorContains(t, err, "unable to parse service account key")
}
