// Package config loads the settings file and the process environment. File
// values cover operator policy (strategy, ceiling, cadence); the shared
// secret and auth limits come only from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Strategy string

const (
	StrategyStackedHomes   Strategy = "stacked-homes"
	StrategySharedInterior Strategy = "shared-communal-interior"
	StrategyDisabled       Strategy = "disabled"
)

type HomePolicy string

const (
	HomePolicyLeaveInPlace   HomePolicy = "leave-in-place"
	HomePolicyRelocateToPool HomePolicy = "relocate-to-pool"
)

type Settings struct {
	Strategy           Strategy   `yaml:"strategy"`
	PlayerCeiling      int        `yaml:"player_ceiling"`
	ExistingHomePolicy HomePolicy `yaml:"existing_home_policy"`

	// Observed deployments disagree on the right free-home floor (1 and 4
	// both in the wild), so it is a setting rather than a constant.
	MinFreeHomes int `yaml:"min_free_homes"`

	WelcomeDelaySeconds     int `yaml:"welcome_delay_seconds"`
	ReminderIntervalSeconds int `yaml:"reminder_interval_seconds"`

	FarmName string `yaml:"farm_name"`
}

func Defaults() Settings {
	return Settings{
		Strategy:                StrategyStackedHomes,
		PlayerCeiling:           8,
		ExistingHomePolicy:      HomePolicyLeaveInPlace,
		MinFreeHomes:            1,
		WelcomeDelaySeconds:     5,
		ReminderIntervalSeconds: 60,
		FarmName:                "Farm",
	}
}

// Load reads a settings file. A missing path yields defaults; a present but
// malformed file is an error (never silently fall open on bad policy input).
func Load(path string) (Settings, error) {
	s := Defaults()
	if strings.TrimSpace(path) == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, err
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("settings.yaml: %w", err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("settings.yaml: %w", err)
	}
	return s, nil
}

func (s *Settings) Normalize() {
	s.Strategy = Strategy(strings.ToLower(strings.TrimSpace(string(s.Strategy))))
	s.ExistingHomePolicy = HomePolicy(strings.ToLower(strings.TrimSpace(string(s.ExistingHomePolicy))))
	if s.Strategy == "" {
		s.Strategy = StrategyStackedHomes
	}
	if s.ExistingHomePolicy == "" {
		s.ExistingHomePolicy = HomePolicyLeaveInPlace
	}
	if s.MinFreeHomes <= 0 {
		s.MinFreeHomes = 1
	}
	if s.PlayerCeiling <= 0 {
		s.PlayerCeiling = Defaults().PlayerCeiling
	}
	if s.WelcomeDelaySeconds <= 0 {
		s.WelcomeDelaySeconds = Defaults().WelcomeDelaySeconds
	}
	if s.ReminderIntervalSeconds <= 0 {
		s.ReminderIntervalSeconds = Defaults().ReminderIntervalSeconds
	}
	if strings.TrimSpace(s.FarmName) == "" {
		s.FarmName = Defaults().FarmName
	}
}

func (s Settings) Validate() error {
	switch s.Strategy {
	case StrategyStackedHomes, StrategySharedInterior, StrategyDisabled:
	default:
		return fmt.Errorf("unknown strategy %q", s.Strategy)
	}
	switch s.ExistingHomePolicy {
	case HomePolicyLeaveInPlace, HomePolicyRelocateToPool:
	default:
		return fmt.Errorf("unknown existing_home_policy %q", s.ExistingHomePolicy)
	}
	return nil
}

func (s Settings) WelcomeDelay() time.Duration {
	return time.Duration(s.WelcomeDelaySeconds) * time.Second
}

func (s Settings) ReminderInterval() time.Duration {
	return time.Duration(s.ReminderIntervalSeconds) * time.Second
}

// Env is the environment-sourced half of the configuration. The secret never
// lives in the settings file.
type Env struct {
	Secret             string
	MaxFailedAttempts  int
	AuthTimeoutSeconds int
}

const (
	envSecret      = "FARMHOLD_SECRET"
	envMaxAttempts = "FARMHOLD_MAX_ATTEMPTS"
	envAuthTimeout = "FARMHOLD_AUTH_TIMEOUT_SECONDS"
)

// FromEnv reads the process environment. Malformed numeric values fall back
// to the safe defaults rather than disabling the limit.
func FromEnv() Env {
	return Env{
		Secret:             os.Getenv(envSecret),
		MaxFailedAttempts:  envInt(envMaxAttempts, 3),
		AuthTimeoutSeconds: envInt(envAuthTimeout, 120),
	}
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (e Env) AuthTimeout() time.Duration {
	return time.Duration(e.AuthTimeoutSeconds) * time.Second
}
