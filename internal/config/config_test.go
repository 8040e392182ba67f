package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return p
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s != Defaults() {
		t.Fatalf("missing file should yield defaults, got %+v", s)
	}
}

func TestLoad_FileValues(t *testing.T) {
	p := writeSettings(t, strings.TrimSpace(`
strategy: shared-communal-interior
player_ceiling: 12
existing_home_policy: relocate-to-pool
min_free_homes: 4
welcome_delay_seconds: 10
reminder_interval_seconds: 90
farm_name: Grange
`))
	s, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Strategy != StrategySharedInterior || s.PlayerCeiling != 12 ||
		s.ExistingHomePolicy != HomePolicyRelocateToPool || s.MinFreeHomes != 4 ||
		s.FarmName != "Grange" {
		t.Fatalf("unexpected settings: %+v", s)
	}
}

func TestLoad_UnknownStrategyFailsClosed(t *testing.T) {
	p := writeSettings(t, "strategy: everything-goes\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("unknown strategy must be a load error, not a silent default")
	}
}

func TestNormalize_ClampsNonPositives(t *testing.T) {
	s := Settings{Strategy: " Stacked-Homes ", MinFreeHomes: -2}
	s.Normalize()
	if s.Strategy != StrategyStackedHomes {
		t.Fatalf("normalize should trim+lower strategy, got %q", s.Strategy)
	}
	if s.MinFreeHomes != 1 {
		t.Fatalf("non-positive min_free_homes should clamp to 1, got %d", s.MinFreeHomes)
	}
}

func TestFromEnv_MalformedNumbersKeepDefaults(t *testing.T) {
	t.Setenv(envSecret, "hunter2")
	t.Setenv(envMaxAttempts, "many")
	t.Setenv(envAuthTimeout, "-5")
	e := FromEnv()
	if e.Secret != "hunter2" {
		t.Fatalf("secret: got %q", e.Secret)
	}
	if e.MaxFailedAttempts != 3 || e.AuthTimeoutSeconds != 120 {
		t.Fatalf("malformed limits should keep defaults, got %+v", e)
	}
}
