package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Question is a single entry of the verification challenge pool.
type Question struct {
	Question string `yaml:"question" json:"question"`
	Answer   string `yaml:"answer" json:"answer"`
}

var DefaultAdmins = []string{"admin", "moderator", "technest_admin"}

var DefaultLexicon = []string{
	"fuck", "shit", "damn", "bitch", "asshole", "bastard", "crap", "piss",
	"stupid", "idiot", "moron", "retard", "gay", "fag", "nigger", "slut",
	"whore", "pussy", "dick", "cock", "penis", "vagina", "sex", "porn",
	"nude", "naked", "kill", "die", "suicide", "murder", "hate", "racist",
}

var DefaultQuestions = []Question{
	{Question: "What is 5 + 3?", Answer: "8"},
	{Question: "What color is the sky?", Answer: "blue"},
	{Question: "How many days in a week?", Answer: "7"},
	{Question: "What is 2 x 4?", Answer: "8"},
	{Question: "What is the first letter of the alphabet?", Answer: "a"},
	{Question: "How many sides does a triangle have?", Answer: "3"},
	{Question: "What is 10 - 4?", Answer: "6"},
	{Question: "What comes after Monday?", Answer: "tuesday"},
}

const (
	defaultMaxMessages      = 10
	defaultRateWindow       = 60 * time.Second
	defaultMaxMessageLength = 500
	defaultGraceDelay       = time.Second
	defaultHTTPRequests     = 100
	defaultHTTPWindow       = 15 * time.Minute
)

type Config struct {
	ServerAddr     string   `yaml:"-"`
	AllowedOrigins []string `yaml:"-"`
	StaticDir      string   `yaml:"-"`

	Admins           []string      `yaml:"admins"`
	Lexicon          []string      `yaml:"lexicon"`
	Questions        []Question    `yaml:"questions"`
	MaxMessages      int           `yaml:"max_messages"`
	RateWindow       time.Duration `yaml:"rate_window"`
	MaxMessageLength int           `yaml:"max_message_length"`
	GraceDelay       time.Duration `yaml:"grace_delay"`
	HTTPRequests     int           `yaml:"http_requests"`
	HTTPWindow       time.Duration `yaml:"http_window"`
	TrustedProxies   []string      `yaml:"trusted_proxies"`
}

func NewConfig(serverAddr string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	cfg := &Config{
		ServerAddr:       serverAddr,
		AllowedOrigins:   allowedOrigins,
		Admins:           append([]string(nil), DefaultAdmins...),
		Lexicon:          append([]string(nil), DefaultLexicon...),
		Questions:        append([]Question(nil), DefaultQuestions...),
		MaxMessages:      defaultMaxMessages,
		RateWindow:       defaultRateWindow,
		MaxMessageLength: defaultMaxMessageLength,
		GraceDelay:       defaultGraceDelay,
		HTTPRequests:     defaultHTTPRequests,
		HTTPWindow:       defaultHTTPWindow,
	}

	return cfg, nil
}

// LoadFile overlays the moderation settings found in the YAML file at path.
// Keys missing from the file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	return c.load(data)
}

func (c *Config) load(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	return c.Validate()
}

func (c *Config) Validate() error {
	switch {
	case len(c.Questions) == 0:
		return fmt.Errorf("at least one verification question is required")
	case c.MaxMessages <= 0:
		return fmt.Errorf("max_messages must be positive")
	case c.RateWindow <= 0:
		return fmt.Errorf("rate_window must be positive")
	case c.MaxMessageLength <= 0:
		return fmt.Errorf("max_message_length must be positive")
	case c.GraceDelay < 0:
		return fmt.Errorf("grace_delay cannot be negative")
	case c.HTTPRequests <= 0:
		return fmt.Errorf("http_requests must be positive")
	case c.HTTPWindow <= 0:
		return fmt.Errorf("http_window must be positive")
	}

	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}

	for i, q := range c.Questions {
		if strings.TrimSpace(q.Answer) == "" {
			return fmt.Errorf("question %d has an empty answer", i)
		}
	}

	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. Entries are addresses or
// CIDR prefixes.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return prefixes, nil
}

// IsAdmin reports whether username is in the admin list, ignoring case.
func (c *Config) IsAdmin(username string) bool {
	for _, a := range c.Admins {
		if strings.EqualFold(a, username) {
			return true
		}
	}

	return false
}
