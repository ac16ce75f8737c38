package cloner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"thingino-cloner/internal/ident"
)

func TestParseEnvFileIgnoresCommentsAndBlankLines(t *testing.T) {
	cfg := &envConfig{}
	parseEnvFile("\n# comment\nTHINGINO_CLONER_SKIP_DDR=true\n\nTHINGINO_CLONER_FORCE_VARIANT = T41N \n", cfg)

	require.Equal(t, "true", cfg.SkipDDR)
	require.Equal(t, "T41N", cfg.ForceVariant)
}

func TestOptionsFromEnvFlagsWinOverEnv(t *testing.T) {
	loadedConfig = &envConfig{
		SkipDDR:              "true",
		UBootAddressOverride: "0x81000000",
		ForceVariant:         "T31",
		ChipID:               "0x10",
	}
	configLoaded = true
	t.Cleanup(func() { configLoaded = false; loadedConfig = nil })

	base := Options{ForceVariant: ident.T41}
	got := OptionsFromEnv(base)

	require.True(t, got.SkipDDR, "zero-valued fields pick up the env override")
	require.EqualValues(t, 0x81000000, got.UBootAddress)
	require.Equal(t, ident.T41, got.ForceVariant, "a flag-set field must not be overridden by env")
	require.EqualValues(t, 0x10, got.ChipID)
}
