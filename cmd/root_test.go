package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"load", "explore", "kfunc", "pcf", "rhohat", "correlate", "fit", "compare", "diagnose", "analyze", "synth", "runs"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "ppm-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)

	for _, name := range []string{"format", "data-dir", "dataset", "export"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
}

func TestEnvelopeCommands_Flags(t *testing.T) {
	for _, c := range []string{"kfunc", "pcf"} {
		cmd, _, err := rootCmd.Find([]string{c})
		require.NoError(t, err)
		nsim := cmd.Flags().Lookup("nsim")
		require.NotNil(t, nsim, c)
		assert.Equal(t, "19", nsim.DefValue)
		assert.NotNil(t, cmd.Flags().Lookup("inhom"), c)
	}
}

func TestCompareCommand_Args(t *testing.T) {
	assert.Error(t, compareCmd.Args(compareCmd, []string{"Elevation"}))
	assert.NoError(t, compareCmd.Args(compareCmd, []string{"Elevation", "Elevation + Forest"}))
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])

	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}
