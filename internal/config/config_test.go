package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	var (
		addr = "localhost:8080"
		orig = []string{"http://localhost:3000"}
	)

	tcases := []struct {
		name         string
		addr         string
		orig         []string
		expectedOrig []string
		err          bool
	}{
		{
			name:         "valid config",
			addr:         addr,
			orig:         orig,
			expectedOrig: orig,
			err:          false,
		},
		{
			name:         "defaults allowed origins to wildcard",
			addr:         addr,
			orig:         nil,
			expectedOrig: []string{"*"},
			err:          false,
		},
		{
			name: "empty address",
			addr: "",
			orig: orig,
			err:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			config, err := NewConfig(tc.addr, tc.orig)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, tc.addr, config.ServerAddr, "expected server address to match")
			assert.Equal(t, tc.expectedOrig, config.AllowedOrigins, "expected allowed origins to match")
			assert.Equal(t, DefaultLexicon, config.Lexicon, "expected default lexicon")
			assert.Equal(t, DefaultAdmins, config.Admins, "expected default admins")
			assert.Len(t, config.Questions, 8, "expected default question pool")
			assert.Equal(t, 10, config.MaxMessages)
			assert.Equal(t, time.Minute, config.RateWindow)
			assert.Equal(t, 500, config.MaxMessageLength)
			assert.Equal(t, time.Second, config.GraceDelay)
			assert.Equal(t, 100, config.HTTPRequests)
			assert.Equal(t, 15*time.Minute, config.HTTPWindow)
			assert.NoError(t, config.Validate(), "expected defaults to validate")
		})
	}
}

func TestConfig_IsAdmin(t *testing.T) {
	cfg, err := NewConfig("localhost:8000", nil)
	require.NoError(t, err)

	tcases := []struct {
		username string
		expected bool
	}{
		{"admin", true},
		{"ADMIN", true},
		{"Moderator", true},
		{"technest_admin", true},
		{"alice", false},
		{"admin1", false},
		{"", false},
	}

	for _, tc := range tcases {
		t.Run(tc.username, func(t *testing.T) {
			assert.Equal(t, tc.expected, cfg.IsAdmin(tc.username))
		})
	}
}

func TestConfig_load(t *testing.T) {
	tcases := []struct {
		name  string
		yaml  string
		err   bool
		check func(t *testing.T, c *Config)
	}{
		{
			name: "overlays provided keys",
			yaml: `
admins: [root]
lexicon: [badword]
max_messages: 3
rate_window: 30s
grace_delay: 250ms
questions:
  - question: "What is 1 + 1?"
    answer: "2"
`,
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, []string{"root"}, c.Admins)
				assert.Equal(t, []string{"badword"}, c.Lexicon)
				assert.Equal(t, 3, c.MaxMessages)
				assert.Equal(t, 30*time.Second, c.RateWindow)
				assert.Equal(t, 250*time.Millisecond, c.GraceDelay)
				assert.Equal(t, []Question{{Question: "What is 1 + 1?", Answer: "2"}}, c.Questions)
				assert.Equal(t, 500, c.MaxMessageLength, "expected untouched keys to keep defaults")
				assert.Equal(t, "localhost:8000", c.ServerAddr, "expected server address to be untouched")
			},
		},
		{
			name: "empty document keeps defaults",
			yaml: "",
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, DefaultLexicon, c.Lexicon)
			},
		},
		{
			name: "rejects non-positive limits",
			yaml: "max_messages: 0",
			err:  true,
		},
		{
			name: "rejects empty answers",
			yaml: `
questions:
  - question: "Anything?"
    answer: " "
`,
			err: true,
		},
		{
			name: "rejects malformed yaml",
			yaml: "admins: [",
			err:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig("localhost:8000", nil)
			require.NoError(t, err)

			err = cfg.load([]byte(tc.yaml))
			if tc.err {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestConfig_LoadFile(t *testing.T) {
	cfg, err := NewConfig("localhost:8000", nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "chatrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_message_length: 140\n"), 0o600))

	assert.NoError(t, cfg.LoadFile(path))
	assert.Equal(t, 140, cfg.MaxMessageLength)

	err = cfg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "expected error for missing file")
}

func TestConfig_TrustedProxyPrefixes(t *testing.T) {
	cfg, err := NewConfig("localhost:8080", nil)
	require.NoError(t, err)

	prefixes, err := cfg.TrustedProxyPrefixes()
	require.NoError(t, err)
	assert.Empty(t, prefixes, "expected no proxy to be trusted by default")

	cfg.TrustedProxies = []string{"10.0.0.9", " 192.168.0.0/16 ", "::ffff:172.16.0.1", "2001:db8::/32"}
	prefixes, err = cfg.TrustedProxyPrefixes()
	require.NoError(t, err)

	var got []string
	for _, p := range prefixes {
		got = append(got, p.String())
	}
	assert.Equal(t, []string{"10.0.0.9/32", "192.168.0.0/16", "172.16.0.1/32", "2001:db8::/32"}, got)

	cfg.TrustedProxies = []string{"proxy.internal"}
	assert.Error(t, cfg.Validate(), "expected an unparsable proxy entry to be rejected")
}
