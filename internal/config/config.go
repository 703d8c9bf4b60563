// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

// Package config loads qrtrace configuration from an optional YAML file
// overlaid with command-line flags. Flags win over the file, the file
// wins over defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Retention configures the automatic log purge.
type Retention struct {
	Days      int           `koanf:"days"`
	BatchSize int           `koanf:"batch_size"`
	Pause     time.Duration `koanf:"pause"`
}

// Stats configures the health classification and disk estimate.
type Stats struct {
	WarningThreshold  int64 `koanf:"warning_threshold"`
	CriticalThreshold int64 `koanf:"critical_threshold"`
	AvgRowBytes       int64 `koanf:"avg_row_bytes"`
	CapacityBytes     int64 `koanf:"capacity_bytes"`
}

// Config is the full qrtrace configuration.
type Config struct {
	DatabaseURL     string    `koanf:"database_url"`
	ListenAddr      string    `koanf:"listen_addr"`
	LogFormat       string    `koanf:"log_format"`
	AdminEmails     []string  `koanf:"admin_emails"`
	ProtectedTables []string  `koanf:"protected_tables"`
	Retention       Retention `koanf:"retention"`
	Stats           Stats     `koanf:"stats"`
}

// Default returns the configuration used when neither file nor flags
// override a key.
func Default() Config {
	return Config{
		ListenAddr: "127.0.0.1:8085",
		LogFormat:  "json",
		ProtectedTables: []string{
			"users",
			"qr_codes",
			"system_logs",
		},
		Retention: Retention{
			Days:      90,
			BatchSize: 1000,
			Pause:     100 * time.Millisecond,
		},
		Stats: Stats{
			WarningThreshold:  10,
			CriticalThreshold: 50,
			AvgRowBytes:       500,
			CapacityBytes:     100 << 20,
		},
	}
}

// flagGroups are the config sections whose flags carry the section as a
// name prefix, e.g. --retention-days sets retention.days.
var flagGroups = []string{"retention", "stats"}

// flagKey maps a flag name onto its config key. Dashes become
// underscores, then a known group prefix becomes a section.
func flagKey(name string) string {
	key := strings.ReplaceAll(name, "-", "_")
	for _, grp := range flagGroups {
		if strings.HasPrefix(key, grp+"_") {
			return grp + "." + strings.TrimPrefix(key, grp+"_")
		}
	}
	return key
}

// Load reads the YAML file at path (when non-empty) and overlays any
// flags the user set, so --retention-days overrides retention.days from
// the file.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		p := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		})
		if err := k.Load(p, nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the process cannot run
// with. Out-of-range tuning values are normalized elsewhere, not here.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.Stats.CriticalThreshold < c.Stats.WarningThreshold {
		return fmt.Errorf("stats critical threshold %d is below warning threshold %d",
			c.Stats.CriticalThreshold, c.Stats.WarningThreshold)
	}
	return nil
}
