package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/levelwatch/internal/model"
	"github.com/rickgao/levelwatch/internal/protocol"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-watch
feed:
  uri: wss://plant.example.com:443
  user: trader
  password: hunter2
  symbols:
    - symbol: ESZ4
      exchange: CME
    - symbol: NQZ4
database:
  enabled: true
  postgres:
    host: localhost
    port: 5432
    name: levels
    user: testuser
    password: testpass
alerts:
  rules:
    - id: es-4485
      symbol: ESZ4
      kind: custom
      priority: high
      conditions:
        price_above: 4485
      cooldown: 10m
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-watch" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-watch")
	}
	if cfg.Feed.URI != "wss://plant.example.com:443" {
		t.Errorf("Feed.URI = %q, want %q", cfg.Feed.URI, "wss://plant.example.com:443")
	}
	if len(cfg.Feed.Symbols) != 2 || cfg.Feed.Symbols[0].Exchange != "CME" {
		t.Errorf("Feed.Symbols = %+v", cfg.Feed.Symbols)
	}
	if len(cfg.Alerts.Rules) != 1 || cfg.Alerts.Rules[0].Cooldown != 10*time.Minute {
		t.Errorf("Alerts.Rules = %+v", cfg.Alerts.Rules)
	}
	if cfg.Alerts.Rules[0].Conditions["price_above"] != 4485 {
		t.Errorf("price_above = %v, want 4485", cfg.Alerts.Rules[0].Conditions["price_above"])
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_FEED_PASSWORD", "secret123")
	t.Setenv("TEST_TWILIO_TOKEN", "tok")

	yaml := `
instance:
  id: test-watch
feed:
  password: ${TEST_FEED_PASSWORD}
notify:
  sms:
    auth_token: ${TEST_TWILIO_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Feed.Password != "secret123" {
		t.Errorf("Feed.Password = %q, want %q", cfg.Feed.Password, "secret123")
	}
	if cfg.Notify.SMS.AuthToken != "tok" {
		t.Errorf("Notify.SMS.AuthToken = %q, want %q", cfg.Notify.SMS.AuthToken, "tok")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-watch
feed:
  symbols:
    - symbol: ESZ4
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Feed.InfraType != DefaultInfraType {
		t.Errorf("Feed.InfraType = %q, want default %q", cfg.Feed.InfraType, DefaultInfraType)
	}
	if cfg.Feed.Symbols[0].Exchange != DefaultExchange {
		t.Errorf("Feed.Symbols[0].Exchange = %q, want default %q", cfg.Feed.Symbols[0].Exchange, DefaultExchange)
	}
	if cfg.Feed.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("Feed.ReconnectBaseDelay = %v, want default %v", cfg.Feed.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Feed.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Feed.MaxReconnectAttempts = %d, want default %d", cfg.Feed.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Levels.TouchThreshold != DefaultTouchThreshold {
		t.Errorf("Levels.TouchThreshold = %v, want default %v", cfg.Levels.TouchThreshold, DefaultTouchThreshold)
	}
	if cfg.Levels.ReloadInterval != DefaultReloadInterval {
		t.Errorf("Levels.ReloadInterval = %v, want default %v", cfg.Levels.ReloadInterval, DefaultReloadInterval)
	}
	if cfg.Alerts.DefaultCooldown != DefaultAlertCooldown {
		t.Errorf("Alerts.DefaultCooldown = %v, want default %v", cfg.Alerts.DefaultCooldown, DefaultAlertCooldown)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.HTTP.Port != DefaultHTTPPort {
		t.Errorf("HTTP.Port = %d, want default %d", cfg.HTTP.Port, DefaultHTTPPort)
	}
	if cfg.Feed.AppVersion == "" {
		t.Error("Feed.AppVersion should default to the build version")
	}
}

// validConfig returns a config that passes validation.
func validConfig() Config {
	cfg := Config{
		Instance: InstanceConfig{ID: "test"},
		Feed: FeedConfig{
			URI:      "wss://plant.example.com:443",
			User:     "trader",
			Password: "pass",
			Symbols:  []SymbolConfig{{Symbol: "ESZ4", Exchange: "CME"}},
		},
		Levels: LevelsConfig{Source: "static"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing feed uri",
			mutate:  func(c *Config) { c.Feed.URI = "" },
			wantErr: "feed.uri is required",
		},
		{
			name:    "unknown infra type",
			mutate:  func(c *Config) { c.Feed.InfraType = "moon_plant" },
			wantErr: `feed.infra_type "moon_plant" is not a known plant`,
		},
		{
			name:    "no symbols",
			mutate:  func(c *Config) { c.Feed.Symbols = nil },
			wantErr: "feed.symbols must not be empty",
		},
		{
			name:    "database source without database",
			mutate:  func(c *Config) { c.Levels.Source = "database" },
			wantErr: "levels.source database requires database.enabled",
		},
		{
			name:    "watch folder without database",
			mutate:  func(c *Config) { c.Levels.Watch.Dir = "/var/lib/levelwatch/drop" },
			wantErr: "levels.watch.dir requires database.enabled",
		},
		{
			name:    "touch above proximity",
			mutate:  func(c *Config) { c.Levels.TouchThreshold = 3 },
			wantErr: "levels.touch_threshold (3) cannot exceed proximity_threshold (2)",
		},
		{
			name: "missing postgres password",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 5}
			},
			wantErr: "database.postgres.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "sms without token",
			mutate:  func(c *Config) { c.Notify.SMS = SMSConfig{Enabled: true, AccountSID: "AC1"} },
			wantErr: "notify.sms.auth_token is required",
		},
		{
			name: "bad rule condition",
			mutate: func(c *Config) {
				c.Alerts.Rules = []RuleConfig{{ID: "r", Symbol: "ESZ4", Conditions: map[string]float64{"volume": 1}}}
			},
			wantErr: `alerts.rules[0]: unknown rule condition "volume" for custom rule`,
		},
		{
			name: "duplicate rule id",
			mutate: func(c *Config) {
				r := RuleConfig{ID: "r", Symbol: "ESZ4", Conditions: map[string]float64{"price_above": 1}}
				c.Alerts.Rules = []RuleConfig{r, r}
			},
			wantErr: `alerts.rules[1]: duplicate id "r"`,
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: `logging.format must be text or json, got "xml"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestLoadAndValidate_Error(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: x\n")
	_, err := LoadAndValidate(path)
	if err == nil || !strings.HasPrefix(err.Error(), "validate config:") {
		t.Errorf("LoadAndValidate() error = %v, want validate config error", err)
	}
}

func TestConversions(t *testing.T) {
	cfg := validConfig()
	off := false
	cfg.Alerts.Rules = []RuleConfig{{
		ID:         "pivot-break",
		Symbol:     "ESZ4",
		Kind:       "level_break",
		Priority:   "critical",
		Conditions: map[string]float64{"level_price": 4450},
		Active:     &off,
	}}
	cfg.Alerts.Symbols = map[string]AlertSymbolConfig{"ESZ4": {Distance: 3}}

	cc := cfg.Feed.ClientConfig()
	if cc.InfraType != protocol.InfraTickerPlant {
		t.Errorf("InfraType = %v, want %v", cc.InfraType, protocol.InfraTickerPlant)
	}
	if len(cc.Symbols) != 1 || cc.Symbols[0].Symbol != "ESZ4" || cc.Symbols[0].Exchange != "CME" {
		t.Errorf("Symbols = %+v", cc.Symbols)
	}
	if cc.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("MaxReconnectAttempts = %d, want %d", cc.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}

	mc, err := cfg.MonitorConfig()
	if err != nil {
		t.Fatalf("MonitorConfig failed: %v", err)
	}
	if mc.Thresholds.Breach != DefaultBreachThreshold || len(mc.Symbols) != 1 {
		t.Errorf("MonitorConfig = %+v", mc)
	}

	ec := cfg.Alerts.EngineConfig()
	if ec.Symbols["ESZ4"].Distance != 3 {
		t.Errorf("EngineConfig symbol distance = %v, want 3", ec.Symbols["ESZ4"].Distance)
	}
	if ec.QueueSize != DefaultAlertQueue {
		t.Errorf("EngineConfig QueueSize = %v, want %v", ec.QueueSize, DefaultAlertQueue)
	}

	wc, err := cfg.WatcherConfig()
	if err != nil {
		t.Fatalf("WatcherConfig failed: %v", err)
	}
	if wc.Interval != DefaultWatchInterval || wc.MaxAge != DefaultWatchMaxAge {
		t.Errorf("WatcherConfig Interval/MaxAge = %v/%v, want %v/%v", wc.Interval, wc.MaxAge, DefaultWatchInterval, DefaultWatchMaxAge)
	}
	if len(wc.Symbols) != 2 || wc.Location == nil || wc.Location.String() != DefaultTimezone {
		t.Errorf("WatcherConfig = %+v", wc)
	}

	rules, err := cfg.Alerts.AlertRules()
	if err != nil {
		t.Fatalf("AlertRules failed: %v", err)
	}
	if len(rules) != 1 || rules[0].Kind != model.AlertLevelBreak || rules[0].Priority != model.AlertCritical || rules[0].Active {
		t.Errorf("rules = %+v", rules)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
