package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile = "config.yaml"
	DefaultTags       = "#rss #news"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "6h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Section is one publishing destination and the feeds it republishes.
//
// In YAML a section is either a plain list of feed URLs or a mapping with a
// feeds key and optional overrides.
type Section struct {
	Name            string   `yaml:"-"`
	Feeds           []string `yaml:"feeds"`
	Label           string   `yaml:"label"`
	Tags            string   `yaml:"tags"`
	DigestThreshold int      `yaml:"digest_threshold"`
	Lookback        Duration `yaml:"lookback"`
	Welcome         *bool    `yaml:"welcome"`
}

func (s *Section) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		return value.Decode(&s.Feeds)
	case yaml.MappingNode:
		type plain Section
		var p plain
		if err := value.Decode(&p); err != nil {
			return err
		}
		*s = Section(p)
		return nil
	default:
		return fmt.Errorf("line %d: section must be a list of feed URLs or a mapping", value.Line)
	}
}

// WelcomeEnabled reports whether a destination without history gets a bootstrap post.
func (s Section) WelcomeEnabled() bool {
	return s.Welcome == nil || *s.Welcome
}

// Config is the parsed configuration file plus the environment tunables.
type Config struct {
	Sections []Section
	Settings Settings
}

// Section returns the section with the given name.
func (c *Config) Section(name string) (Section, bool) {
	for _, s := range c.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Load reads the YAML file at path, applies defaults from the environment
// tunables, and validates the result. Sections keep their file order.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data, SettingsFromEnv())
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw YAML into a Config using the given settings for defaults.
func Parse(data []byte, settings Settings) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("parse config: document is empty")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse config: line %d: top level must be a mapping of section names", root.Line)
	}

	cfg := &Config{Settings: settings}
	seen := make(map[string]bool)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		name := strings.TrimSpace(key.Value)
		if seen[name] {
			return nil, fmt.Errorf("parse config: line %d: section %q defined twice", key.Line, name)
		}
		seen[name] = true

		var s Section
		if err := value.Decode(&s); err != nil {
			return nil, fmt.Errorf("parse config: section %q: %w", name, err)
		}
		s.Name = name
		cfg.Sections = append(cfg.Sections, s)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	for i := range cfg.Sections {
		s := &cfg.Sections[i]
		if s.Label == "" {
			s.Label = s.Name
		}
		if s.Tags == "" {
			s.Tags = DefaultTags
		}
		if s.DigestThreshold == 0 {
			s.DigestThreshold = cfg.Settings.DigestThreshold
		}
		if s.Lookback.Duration == 0 {
			s.Lookback.Duration = cfg.Settings.Lookback
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Sections) == 0 {
		return errors.New("at least one section must be configured")
	}

	for _, s := range cfg.Sections {
		if s.Name == "" {
			return errors.New("section name must not be empty")
		}
		if len(s.Feeds) == 0 {
			return fmt.Errorf("%s: at least one feed URL is required", s.Name)
		}
		for _, raw := range s.Feeds {
			if err := validateFeedURL(raw); err != nil {
				return fmt.Errorf("%s: %w", s.Name, err)
			}
		}
		if s.DigestThreshold < 1 {
			return fmt.Errorf("%s: digest_threshold must be at least 1, got %d", s.Name, s.DigestThreshold)
		}
		if s.Lookback.Duration <= 0 {
			return fmt.Errorf("%s: lookback must be positive, got %s", s.Name, s.Lookback.Duration)
		}
	}

	return cfg.Settings.Validate()
}

func validateFeedURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("feed %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("feed %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("feed %q: missing host", raw)
	}
	return nil
}
