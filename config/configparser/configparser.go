/*
 * ia32core - Configuration file parser
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package configparser loads the machine's construction parameters from a
// YAML/TOML/JSON file (whichever extension the caller names), the same
// job a hand-rolled flag parser would otherwise do for machine control
// units, narrowed to what an IA-32 core's internal/core.Config needs: RAM
// size, the A20 gate's boot state, the trace cache's slot count, a boot
// image to shadow into RAM, and the log file path (§1 of SPEC_FULL.md).
package configparser

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the on-disk shape; internal/core.Config is built from it by
// the caller (cmd/ia32run) so configparser stays independent of the cpu
// and core packages.
type Config struct {
	RAMSizeMB      int    `mapstructure:"ram_size_mb"`
	A20Enabled     bool   `mapstructure:"a20_enabled"`
	TraceCacheSize int    `mapstructure:"trace_cache_size"`
	BootImage      string `mapstructure:"boot_image"`
	BootImageBase  uint32 `mapstructure:"boot_image_base"`
	LogFile        string `mapstructure:"log_file"`
	Debug          []string `mapstructure:"debug"`
}

// Defaults applied before the file is read, mirroring the constants the
// a sensible machine configuration falls back to when a key is omitted.
func Defaults() Config {
	return Config{
		RAMSizeMB:      16,
		A20Enabled:     false,
		TraceCacheSize: 4096,
		BootImageBase:  0xFFFF0000,
		LogFile:        "",
	}
}

// Load reads path (format inferred from its extension: yaml/yml/toml/json)
// into a Config seeded with Defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigFile(path)
	for key, val := range map[string]interface{}{
		"ram_size_mb":      cfg.RAMSizeMB,
		"a20_enabled":      cfg.A20Enabled,
		"trace_cache_size": cfg.TraceCacheSize,
		"boot_image_base":  cfg.BootImageBase,
	} {
		v.SetDefault(key, val)
	}

	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("configparser: reading %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("configparser: unmarshal %s: %w", path, err)
	}
	if cfg.RAMSizeMB <= 0 {
		return cfg, fmt.Errorf("configparser: ram_size_mb must be positive, got %d", cfg.RAMSizeMB)
	}
	return cfg, nil
}

// RAMSizeBytes converts the configured megabyte count to the byte count
// internal/core.Config.RAMSize expects.
func (c Config) RAMSizeBytes() uint32 {
	return uint32(c.RAMSizeMB) * 1024 * 1024
}
