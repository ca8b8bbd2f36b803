//go:build !integration

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

	for _, name := range []string{"enrich", "review", "audit", "cache", "migrate", "seed", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "taxa-enrich", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestEnrichCommand_Flags(t *testing.T) {
	tests := []struct {
		name string
		def  string
	}{
		{"batch-size", "0"},
		{"limit", "0"},
		{"dry-run", "false"},
		{"source", ""},
		{"force", "false"},
	}
	for _, tt := range tests {
		flag := enrichCmd.Flags().Lookup(tt.name)
		require.NotNil(t, flag, "enrich should have --%s", tt.name)
		assert.Equal(t, tt.def, flag.DefValue)
	}
}

func TestReviewCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range reviewCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["export"])

	flag := reviewExportCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "xlsx", flag.DefValue)
}

func TestAuditListCommand_Flags(t *testing.T) {
	for _, name := range []string{"run", "entity", "source", "since", "until", "limit"} {
		assert.NotNil(t, auditListCmd.Flags().Lookup(name), "audit list should have --%s", name)
	}
	assert.Equal(t, "100", auditListCmd.Flags().Lookup("limit").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestCacheShow_RequiresOneArg(t *testing.T) {
	require.Error(t, cacheShowCmd.Args(cacheShowCmd, nil))
	require.NoError(t, cacheShowCmd.Args(cacheShowCmd, []string{"t1"}))
}
