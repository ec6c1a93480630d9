package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pairbot/internal/crypto"
	"github.com/alanyoungcy/pairbot/internal/domain"
)

// run executes the command tree with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig writes a sqlite-backed config with two paper venues.
func writeConfig(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	dir := t.TempDir()
	body := fmt.Sprintf(`log_level = "error"

[vault]
key = %q

[store]
backend = "sqlite"

[sqlite]
path = %q

[venues.binance]
enabled = false

[venues.bybit]
enabled = false

[venues.paper]
venues = ["paper-a", "paper-b"]
prices = { "BTC/USDT" = 100.0 }
balances = { "USDT" = 1000.0 }
`, crypto.EncodeKey(key), filepath.Join(dir, "pairbot.db"))

	path := filepath.Join(dir, "pairbot.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestKeygenPrintsDecodableKey(t *testing.T) {
	out, err := run(t, "keygen")
	require.NoError(t, err)

	key, err := crypto.DecodeKey(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Len(t, key, crypto.KeyLen)
}

func TestKeygenSealsKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.key")

	_, err := run(t, "keygen", "--out", path, "--password", "hunter2")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	key, err := crypto.OpenKeyFile(data, "hunter2")
	require.NoError(t, err)
	assert.Len(t, key, crypto.KeyLen)

	_, err = run(t, "keygen", "--out", path, "--password", "hunter2")
	assert.Error(t, err, "existing key file must not be overwritten")
}

func TestKeygenFileNeedsPassword(t *testing.T) {
	t.Setenv("PAIRBOT_VAULT_KEY_PASSWORD", "")
	_, err := run(t, "keygen", "--out", filepath.Join(t.TempDir(), "vault.key"))
	assert.ErrorContains(t, err, "password")
}

func TestConfigCommandRedactsSecrets(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "--config", path, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "paper-a")
	assert.Contains(t, out, "***")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.HasPrefix(line, "key = ") {
			secret := strings.Trim(strings.TrimPrefix(line, "key = "), `"`)
			assert.NotContains(t, out, secret)
		}
	}
}

func TestCredentialsAndTradeCommands(t *testing.T) {
	path := writeConfig(t)

	for _, venue := range []string{"paper-a", "paper-b"} {
		out, err := run(t, "-c", path, "credentials", "add",
			"--user", "u1", "--venue", venue, "--api-key", "k", "--api-secret", "s")
		require.NoError(t, err)
		assert.Contains(t, out, "stored "+venue)
	}

	out, err := run(t, "-c", path, "credentials", "list", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "paper-a")
	assert.Contains(t, out, "paper-b")
	assert.NotContains(t, out, "corrupt")

	out, err = run(t, "-c", path, "credentials", "balances", "paper-a", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "USDT")

	out, err = run(t, "-c", path, "trade", "--json",
		"--user", "u1", "--base", "paper-a", "--quote", "paper-b",
		"--instrument", "BTCUSDT", "--notional", "200", "--request-id", "cli-1")
	require.NoError(t, err)

	var outcome domain.TradeOutcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.Equal(t, domain.TradeCompleted, outcome.Status)
	assert.Equal(t, "u1", outcome.UserID)
	assert.Equal(t, "paper-a", outcome.Long.Venue)

	_, err = run(t, "-c", path, "credentials", "delete", "paper-b", "--user", "u1")
	require.NoError(t, err)

	_, err = run(t, "-c", path, "trade",
		"--user", "u1", "--base", "paper-a", "--quote", "paper-b",
		"--instrument", "BTCUSDT", "--notional", "200")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTradeRejectsInvalidIntent(t *testing.T) {
	path := writeConfig(t)

	_, err := run(t, "-c", path, "trade",
		"--user", "u1", "--base", "paper-a", "--quote", "paper-a",
		"--instrument", "BTCUSDT", "--notional", "200")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTradeRequiresFlags(t *testing.T) {
	_, err := run(t, "trade", "--user", "u1")
	assert.Error(t, err)
}
