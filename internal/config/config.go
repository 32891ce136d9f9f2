// Package config loads the jamfwatch settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const DefaultConfigFile = "jamfwatch.toml"

// Settings represents the full jamfwatch.toml file.
type Settings struct {
	Jamf  JamfSettings  `toml:"jamf"`
	Git   GitSettings   `toml:"git"`
	Email EmailSettings `toml:"email"`
	Run   RunSettings   `toml:"run"`
}

// JamfSettings holds the connection details for the Jamf Pro server.
type JamfSettings struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// GitSettings configures the snapshot repository.
type GitSettings struct {
	// Repo is the path of the snapshot tree. Created if missing.
	Repo string `toml:"repo"`
	// Name and Email identify the commit author.
	Name  string `toml:"name"`
	Email string `toml:"email"`
	// Remote, when set, is pushed to after each commit.
	Remote string `toml:"remote"`
	Push   bool   `toml:"push"`
}

// EmailSettings configures report delivery. Delivery is skipped entirely
// when Host is empty.
type EmailSettings struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	To       string `toml:"to"`
	Subject  string `toml:"subject"`
}

// RunSettings tunes the monitoring cycle.
type RunSettings struct {
	// TimeoutSeconds is the wall-clock budget for collecting all sources.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Defaults returns a Settings with every optional field filled in.
func Defaults() *Settings {
	return &Settings{
		Email: EmailSettings{
			Port:    25,
			Subject: "jamfwatch change log",
		},
		Git: GitSettings{
			Name:  "jamfwatch",
			Email: "anonymous",
		},
		Run: RunSettings{
			TimeoutSeconds: 600,
		},
	}
}

// Load reads and parses a settings file from the given path. Missing
// optional fields are filled from Defaults; a missing file is an error.
func Load(path string) (*Settings, error) {
	s := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no settings file at %s: create one from jamfwatch.example.toml", path)
		}
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	if err := toml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}

	s.normalize()

	if err := s.Validate(); err != nil {
		return nil, err
	}

	// The snapshot tree defaults to ./data next to the settings file.
	if s.Git.Repo == "" {
		s.Git.Repo = filepath.Join(filepath.Dir(path), "data")
	}

	return s, nil
}

// normalize trims whitespace so that blank-but-present values behave
// like absent ones.
func (s *Settings) normalize() {
	fields := []*string{
		&s.Jamf.URL, &s.Jamf.Username, &s.Jamf.Password,
		&s.Git.Repo, &s.Git.Name, &s.Git.Email, &s.Git.Remote,
		&s.Email.Host, &s.Email.Username, &s.Email.Password,
		&s.Email.From, &s.Email.To, &s.Email.Subject,
	}
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
	s.Jamf.URL = strings.TrimRight(s.Jamf.URL, "/")
}

// Validate checks that the required connection fields are present.
func (s *Settings) Validate() error {
	if s.Jamf.URL == "" {
		return fmt.Errorf("settings: jamf.url is required")
	}
	if s.Jamf.Username == "" || s.Jamf.Password == "" {
		return fmt.Errorf("settings: jamf.username and jamf.password are required")
	}
	if s.Email.Host != "" && s.Email.To == "" {
		return fmt.Errorf("settings: email.to is required when email.host is set")
	}
	if s.Run.TimeoutSeconds <= 0 {
		return fmt.Errorf("settings: run.timeout_seconds must be positive")
	}
	return nil
}
