package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"migrate", "import", "link", "watchlist", "risk", "stats", "crosscheck", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "regwatch", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestImportCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range importCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"base", "gazette", "registry", "watchlist"} {
		assert.True(t, names[name], "import should have subcommand %q", name)
	}

	flag := importCmd.PersistentFlags().Lookup("file")
	require.NotNil(t, flag, "import should have --file flag")
	assert.Equal(t, "", flag.DefValue)
}

func TestWatchlistCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range watchlistCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"build", "list", "archive"} {
		assert.True(t, names[name], "watchlist should have subcommand %q", name)
	}
	assert.Error(t, watchlistArchiveCmd.Args(watchlistArchiveCmd, nil))
}

func TestLinkCommand_Flags(t *testing.T) {
	for flagName, def := range map[string]string{
		"base":    "",
		"against": "registry",
		"profile": "registry",
		"out":     ".",
		"prefix":  "link",
	} {
		flag := linkCmd.Flags().Lookup(flagName)
		require.NotNil(t, flag, "link should have --%s flag", flagName)
		assert.Equal(t, def, flag.DefValue, flagName)
	}
}

func TestCrosscheckCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"all", "wilaya", "limit"} {
		assert.NotNil(t, crosscheckCmd.Flags().Lookup(flagName), "crosscheck should have --%s flag", flagName)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
