package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/Sanstheink/Inv-bot/invbot"
	"github.com/stretchr/testify/assert"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := invbot.Version
	originalCommitSHA := invbot.CommitSHA
	originalBuildTime := invbot.BuildTime

	t.Cleanup(
		func() {
			invbot.Version = originalVersion
			invbot.CommitSHA = originalCommitSHA
			invbot.BuildTime = originalBuildTime
		},
	)

	invbot.Version = "1.0.0"
	invbot.CommitSHA = "abc123"
	invbot.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		invbot.Version,
		invbot.CommitSHA,
		invbot.BuildTime,
	)
	assert.Equal(t, expected, output)
}
