package invbot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBot returns an InvBot backed by a temp-file SQLite store and
// a mock Discord session, ready to handle interactions.
func newTestBot(t testing.TB) (*InvBot, *mockDiscordSession) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Database = filepath.Join(t.TempDir(), "test.sqlite3")
	cfg.Discord.Token = "test-token"
	cfg.Discord.ApplicationID = "test-app"
	cfg.LogLevel.Set(slog.LevelWarn)

	bot, err := New(cfg)
	require.NoError(t, err)

	db, err := CreateDB(
		context.Background(),
		cfg.DatabaseType,
		cfg.Database,
		tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelWarn}),
		cfg.DatabaseSlowThreshold,
	)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			sqlDB, _ := db.DB()
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		},
	)
	bot.db = NewDatabase(db, bot.logger, false)

	mockSession := newMockDiscordSession()
	bot.discord.session = mockSession
	return bot, mockSession
}

func stringCommandOption(name string, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

// commandInteraction builds an application command interaction from a
// guild member. Admin members carry the Manage Server permission.
func commandInteraction(
	commandName string,
	userID string,
	admin bool,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	member := &discordgo.Member{
		User: &discordgo.User{ID: userID, Username: "user_" + userID},
	}
	if admin {
		member.Permissions = discordgo.PermissionManageGuild
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      "interaction-" + commandName,
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: "guild-1",
			Member:  member,
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    commandName,
				Options: options,
			},
		},
	}
}

func TestHandleCreateDocument(t *testing.T) {
	bot, mockSession := newTestBot(t)
	ctx := context.Background()

	i := commandInteraction(
		DiscordSlashCommandCreateDoc,
		"user-1",
		true,
		stringCommandOption(docCommandTypeOption, "certificate"),
		stringCommandOption(docCommandTitleOption, "Employment certificate"),
		stringCommandOption(docCommandContentOption, `line one\nline two`),
	)
	bot.handleInteraction(ctx, i)

	docs, err := bot.db.ListRecentDocuments(ctx, 0, RecordFilter{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	doc := docs[0]
	assert.Equal(
		t,
		fmt.Sprintf("DOC-%d-001", time.Now().UTC().Year()),
		doc.SequenceNumber,
	)
	assert.Equal(t, DocumentTypeCertificate, doc.Type)
	assert.Equal(t, "Employment certificate", doc.Title)
	assert.Equal(t, "line one\nline two", doc.Content)
	assert.Equal(t, "user-1", doc.UserID)

	edit := mockSession.lastEdit(t)
	require.NotNil(t, edit.Content)
	assert.Contains(t, *edit.Content, doc.SequenceNumber)
	require.NotNil(t, edit.Files)
	require.Len(t, edit.Files, 1)
	assert.Equal(t, doc.SequenceNumber+".pdf", edit.Files[0].Name)
}

func TestCreateDocumentPermissionDenied(t *testing.T) {
	bot, mockSession := newTestBot(t)
	ctx := context.Background()

	i := commandInteraction(
		DiscordSlashCommandCreateDoc,
		"user-1",
		false,
		stringCommandOption(docCommandTypeOption, "certificate"),
		stringCommandOption(docCommandTitleOption, "Employment certificate"),
		stringCommandOption(docCommandContentOption, "body"),
	)
	bot.handleInteraction(ctx, i)

	docs, err := bot.db.ListRecentDocuments(ctx, 0, RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, docs, "denied command must not persist a record")

	edit := mockSession.lastEdit(t)
	require.NotNil(t, edit.Content)
	assert.Contains(t, *edit.Content, "permission")
	assert.Nil(t, edit.Files)
}

func TestCreateDocumentInvalidInput(t *testing.T) {
	bot, mockSession := newTestBot(t)
	ctx := context.Background()

	i := commandInteraction(
		DiscordSlashCommandCreateDoc,
		"user-1",
		true,
		stringCommandOption(docCommandTypeOption, "certificate"),
		stringCommandOption(docCommandTitleOption, "Employment certificate"),
		stringCommandOption(docCommandContentOption, "   "),
	)
	bot.handleInteraction(ctx, i)

	docs, err := bot.db.ListRecentDocuments(ctx, 0, RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, docs)

	edit := mockSession.lastEdit(t)
	require.NotNil(t, edit.Content)
	assert.Contains(t, *edit.Content, "Invalid input")
}

func TestHandleCreateInvoice(t *testing.T) {
	bot, mockSession := newTestBot(t)
	ctx := context.Background()

	i := commandInteraction(
		DiscordSlashCommandInvoice,
		"user-1",
		true,
		stringCommandOption(invoiceCommandCustomerOption, "Acme Co"),
		stringCommandOption(
			invoiceCommandItemsOption,
			`[{"name":"Widget","qty":2,"price":100}]`,
		),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  invoiceCommandVATOption,
			Type:  discordgo.ApplicationCommandOptionBoolean,
			Value: true,
		},
	)
	bot.handleInteraction(ctx, i)

	invoices, err := bot.db.ListRecentInvoices(ctx, 0, RecordFilter{})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	inv := invoices[0]
	assert.Equal(
		t,
		fmt.Sprintf("INV-%d-001", time.Now().UTC().Year()),
		inv.SequenceNumber,
	)
	assert.Equal(t, "200.00", inv.Subtotal.StringFixed(2))
	assert.Equal(t, "14.00", inv.Tax.StringFixed(2))
	assert.Equal(t, "214.00", inv.GrandTotal.StringFixed(2))

	edit := mockSession.lastEdit(t)
	require.NotNil(t, edit.Content)
	assert.Contains(t, *edit.Content, "214.00")
	require.NotNil(t, edit.Files)
	require.Len(t, edit.Files, 1)
}

func TestCreateInvoiceBadItems(t *testing.T) {
	bot, mockSession := newTestBot(t)
	ctx := context.Background()

	i := commandInteraction(
		DiscordSlashCommandInvoice,
		"user-1",
		true,
		stringCommandOption(invoiceCommandCustomerOption, "Acme Co"),
		stringCommandOption(invoiceCommandItemsOption, "not json"),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  invoiceCommandVATOption,
			Type:  discordgo.ApplicationCommandOptionBoolean,
			Value: false,
		},
	)
	bot.handleInteraction(ctx, i)

	invoices, err := bot.db.ListRecentInvoices(ctx, 0, RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, invoices)

	edit := mockSession.lastEdit(t)
	require.NotNil(t, edit.Content)
	assert.Contains(t, *edit.Content, "Invalid input")
}

func TestHandleCreateReceipt(t *testing.T) {
	bot, mockSession := newTestBot(t)
	ctx := context.Background()

	i := commandInteraction(
		DiscordSlashCommandReceipt,
		"user-1",
		true,
		stringCommandOption(receiptCommandShopOption, "Corner Shop"),
		stringCommandOption(receiptCommandCustomerOption, "Jane"),
		stringCommandOption(receiptCommandItemsOption, "2x coffee"),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  receiptCommandTotalOption,
			Type:  discordgo.ApplicationCommandOptionNumber,
			Value: 10.5,
		},
	)
	bot.handleInteraction(ctx, i)

	receipts, err := bot.db.ListRecentReceipts(ctx, 0, RecordFilter{})
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	rec := receipts[0]
	assert.Equal(
		t,
		fmt.Sprintf("RC-%d-001", time.Now().UTC().Year()),
		rec.SequenceNumber,
	)
	assert.Equal(t, "10.50", rec.Total.StringFixed(2))

	edit := mockSession.lastEdit(t)
	require.NotNil(t, edit.Content)
	assert.Contains(t, *edit.Content, "10.50")
}

func TestCreateCommandRateLimit(t *testing.T) {
	bot, mockSession := newTestBot(t)
	bot.config.CreateCommandsPerMinute = 1
	ctx := context.Background()

	newInteraction := func() *discordgo.InteractionCreate {
		return commandInteraction(
			DiscordSlashCommandCreateDoc,
			"user-1",
			true,
			stringCommandOption(docCommandTypeOption, "approval"),
			stringCommandOption(docCommandTitleOption, "Approved"),
			stringCommandOption(docCommandContentOption, "ok"),
		)
	}

	bot.handleInteraction(ctx, newInteraction())
	bot.handleInteraction(ctx, newInteraction())

	docs, err := bot.db.ListRecentDocuments(ctx, 0, RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, docs, 1, "second creation should be rate limited")

	edit := mockSession.lastEdit(t)
	require.NotNil(t, edit.Content)
	assert.Contains(t, *edit.Content, "too quickly")

	// a different user has an independent limit
	other := commandInteraction(
		DiscordSlashCommandCreateDoc,
		"user-2",
		true,
		stringCommandOption(docCommandTypeOption, "approval"),
		stringCommandOption(docCommandTitleOption, "Approved"),
		stringCommandOption(docCommandContentOption, "ok"),
	)
	bot.handleInteraction(ctx, other)
	docs, err = bot.db.ListRecentDocuments(ctx, 0, RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestReportCommandOpensModal(t *testing.T) {
	bot, mockSession := newTestBot(t)
	ctx := context.Background()

	i := commandInteraction(DiscordSlashCommandReport, "user-1", false)
	bot.handleInteraction(ctx, i)

	mockSession.mu.Lock()
	defer mockSession.mu.Unlock()
	require.Len(t, mockSession.responses, 1)
	resp := mockSession.responses[0]
	assert.Equal(t, discordgo.InteractionResponseModal, resp.Type)
	assert.Equal(t, reportModalCustomID, resp.Data.CustomID)
}

func TestUnescapeNewlines(t *testing.T) {
	assert.Equal(t, "a\nb", unescapeNewlines(`a\nb`))
	assert.Equal(t, "plain", unescapeNewlines("plain"))
}
