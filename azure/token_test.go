package azure

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCachedTokenProviderReadsInitialToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.txt")
	require.NoError(t, os.WriteFile(path, []byte("initial-token\n"), 0600))

	p, err := NewCachedTokenProvider(path)
	require.NoError(t, err)
	defer p.Close()

	tok, err := p.AccessToken("https://database.windows.net/")
	require.NoError(t, err)
	require.Equal(t, "initial-token", tok)
}

func TestCachedTokenProviderPicksUpRefresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.txt")
	require.NoError(t, os.WriteFile(path, []byte("initial-token"), 0600))

	p, err := NewCachedTokenProvider(path)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, os.WriteFile(path, []byte("refreshed-token"), 0600))

	require.Eventually(t, func() bool {
		tok, err := p.AccessToken("https://database.windows.net/")
		return err == nil && tok == "refreshed-token"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCachedTokenProviderRejectsMissingFile(t *testing.T) {
	_, err := NewCachedTokenProvider(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}
