package cloner

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"thingino-cloner/internal/ident"
)

// envConfig mirrors Options but in the all-strings shape a .env file or
// the process environment naturally provides (spec.md §6's
// "environment-like configuration" table).
type envConfig struct {
	SkipDDR              string
	UBootAddressOverride string
	ForceVariant         string
	ChipID               string
	DDRProcessor         string
	DDRChip              string
}

var (
	loadedConfig *envConfig
	configLoaded bool
)

// LoadEnvConfig reads ./.env (or the nearest ancestor carrying go.mod),
// then lets matching process environment variables override it, and
// caches the result for the life of the process.
func LoadEnvConfig() *envConfig {
	if configLoaded {
		return loadedConfig
	}

	cfg := &envConfig{}

	envPath := filepath.Join(findProjectRoot(), ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), cfg)
	}

	if v := os.Getenv("THINGINO_CLONER_SKIP_DDR"); v != "" {
		cfg.SkipDDR = v
	}
	if v := os.Getenv("THINGINO_CLONER_UBOOT_ADDRESS_OVERRIDE"); v != "" {
		cfg.UBootAddressOverride = v
	}
	if v := os.Getenv("THINGINO_CLONER_FORCE_VARIANT"); v != "" {
		cfg.ForceVariant = v
	}
	if v := os.Getenv("THINGINO_CLONER_CHIP_ID"); v != "" {
		cfg.ChipID = v
	}
	if v := os.Getenv("THINGINO_CLONER_DDR_PROCESSOR"); v != "" {
		cfg.DDRProcessor = v
	}
	if v := os.Getenv("THINGINO_CLONER_DDR_CHIP"); v != "" {
		cfg.DDRChip = v
	}

	loadedConfig = cfg
	configLoaded = true
	return cfg
}

func parseEnvFile(content string, cfg *envConfig) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "THINGINO_CLONER_SKIP_DDR":
			cfg.SkipDDR = value
		case "THINGINO_CLONER_UBOOT_ADDRESS_OVERRIDE":
			cfg.UBootAddressOverride = value
		case "THINGINO_CLONER_FORCE_VARIANT":
			cfg.ForceVariant = value
		case "THINGINO_CLONER_CHIP_ID":
			cfg.ChipID = value
		case "THINGINO_CLONER_DDR_PROCESSOR":
			cfg.DDRProcessor = value
		case "THINGINO_CLONER_DDR_CHIP":
			cfg.DDRChip = value
		}
	}
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}

// OptionsFromEnv builds an Options from LoadEnvConfig, applying the
// parsed values over whatever base the caller already populated from CLI
// flags (flags win: a field is only overridden when it's still at its
// zero value).
func OptionsFromEnv(base Options) Options {
	cfg := LoadEnvConfig()

	if !base.SkipDDR && cfg.SkipDDR != "" {
		if skip, err := strconv.ParseBool(cfg.SkipDDR); err == nil {
			base.SkipDDR = skip
		}
	}
	if base.UBootAddress == 0 && cfg.UBootAddressOverride != "" {
		if addr, err := strconv.ParseUint(strings.TrimPrefix(cfg.UBootAddressOverride, "0x"), 16, 32); err == nil {
			base.UBootAddress = uint32(addr)
		}
	}
	if base.ForceVariant == ident.VariantUnknown && cfg.ForceVariant != "" {
		base.ForceVariant = ident.ParseVariant(cfg.ForceVariant)
	}
	if base.ChipID == 0 && cfg.ChipID != "" {
		if id, err := strconv.ParseUint(cfg.ChipID, 0, 16); err == nil {
			base.ChipID = uint16(id)
		}
	}
	if base.DDRProcessor == "" {
		base.DDRProcessor = cfg.DDRProcessor
	}
	if base.DDRChip == "" {
		base.DDRChip = cfg.DDRChip
	}
	return base
}
