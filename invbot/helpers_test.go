package invbot

import (
	"context"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel", truncate("hello", 3))
	assert.Equal(t, "", truncate("", 5))
	// rune-aware, not byte-aware
	assert.Equal(t, "héll", truncate("héllo", 4))
}

func TestContextLogger(t *testing.T) {
	ctx := context.Background()

	_, ok := ContextLogger(ctx)
	assert.False(t, ok)

	logger := slog.Default().With("test", t.Name())
	ctx = WithLogger(ctx, logger)
	got, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Same(t, logger, got)
}

func TestGetDiscordUser(t *testing.T) {
	dmUser := &discordgo.User{ID: "dm-user"}
	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{User: dmUser},
	}
	assert.Same(t, dmUser, getDiscordUser(i))

	guildUser := &discordgo.User{ID: "guild-user"}
	i = &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{User: guildUser},
		},
	}
	assert.Same(t, guildUser, getDiscordUser(i))

	i = &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}
	assert.Nil(t, getDiscordUser(i))
}

func TestDiscordInteractionOptions(t *testing.T) {
	i := commandInteraction(
		DiscordSlashCommandCreateDoc,
		"user-1",
		false,
		stringCommandOption("title", "A title"),
		stringCommandOption("content", "A body"),
	)
	opts := discordInteractionOptions(i)
	require.Len(t, opts, 2)
	assert.Equal(t, "A title", opts["title"].StringValue())
	assert.Equal(t, "A body", opts["content"].StringValue())
}

func TestStructToSlogValue(t *testing.T) {
	type inner struct {
		Name string `json:"name"`
	}
	type outer struct {
		Visible  string `json:"visible"`
		Redacted string `json:"redacted" log:"[redacted]"`
		Empty    string `json:"empty"`
		Nested   *inner `json:"nested"`
		Missing  *inner `json:"missing"`
	}

	value := structToSlogValue(
		outer{
			Visible:  "shown",
			Redacted: "secret",
			Nested:   &inner{Name: "n"},
		},
	)

	attrs := map[string]slog.Value{}
	for _, attr := range value.Group() {
		attrs[attr.Key] = attr.Value
	}

	assert.Equal(t, "shown", attrs["visible"].String())
	assert.Equal(t, "[redacted]", attrs["redacted"].String())
	_, hasEmpty := attrs["empty"]
	assert.False(t, hasEmpty, "empty strings are skipped")
	_, hasMissing := attrs["missing"]
	assert.False(t, hasMissing, "nil pointers are skipped")
	require.Contains(t, attrs, "nested")
}
