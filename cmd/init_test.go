package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/Sanstheink/Inv-bot/invbot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCommand(t *testing.T) {
	tmpdir := t.TempDir()
	dbPath := filepath.Join(tmpdir, "invbot.sqlite3")

	originalCfg := cfg
	t.Cleanup(
		func() {
			cfg = originalCfg
		},
	)
	cfg = invbot.DefaultConfig()
	cfg.DatabaseType = invbot.DefaultDatabaseType
	cfg.Database = dbPath

	var out bytes.Buffer
	initCmd.SetOut(&out)
	initCmd.SetContext(context.Background())

	initCmd.Run(initCmd, nil)

	require.FileExists(t, dbPath)
	assert.Contains(t, out.String(), "Initialization complete")
}
