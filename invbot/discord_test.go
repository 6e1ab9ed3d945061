package invbot

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDiscordSession is a mock implementation of the
// DiscordSessionHandler interface. It records interaction responses
// and edits so tests can assert on what would have been sent to
// Discord.
type mockDiscordSession struct {
	logger *slog.Logger

	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit
	messages  []string
	statuses  []string
}

func newMockDiscordSession() *mockDiscordSession {
	logLevel := &slog.LevelVar{}
	logLevel.Set(slog.LevelDebug)
	return &mockDiscordSession{
		logger: slog.New(
			tint.NewHandler(
				os.Stdout, &tint.Options{
					Level:     logLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord_session_handler"),
	}
}

func (d *mockDiscordSession) Open() error {
	d.logger.Info("opened session")
	return nil
}

func (d *mockDiscordSession) Close() error {
	d.logger.Info("closed session")
	return nil
}

func (d *mockDiscordSession) AddHandler(_ any) func() {
	d.logger.Info("added handler")
	return func() {
		d.logger.Info("mock-removed handler function")
	}
}

func (d *mockDiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	d.logger.Info(
		"overwrite application commands",
		"app_id", appID,
		"guild_id", guildID,
	)
	cmds := make([]*discordgo.ApplicationCommand, len(commands))
	for i, c := range commands {
		cmds[i] = &discordgo.ApplicationCommand{
			Name:        c.Name,
			Description: c.Description,
		}
	}
	return cmds, nil
}

func (d *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	d.logger.Info("interaction respond", "type", resp.Type)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses = append(d.responses, resp)
	return nil
}

func (d *mockDiscordSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info("interaction response edit")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.edits = append(d.edits, newresp)
	return &discordgo.Message{}, nil
}

func (d *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	d.logger.Info(
		"saw message send",
		"channel_id", channelID,
		"content", message,
	)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, message)
	return &discordgo.Message{}, nil
}

func (d *mockDiscordSession) UpdateCustomStatus(status string) error {
	d.logger.Info("updating custom status", "status", status)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = append(d.statuses, status)
	return nil
}

func (d *mockDiscordSession) SetHTTPClient(_ *http.Client) {
	d.logger.Info("set http client")
}

func (d *mockDiscordSession) SetLogLevel(lvl slog.Level) error {
	d.logger.Info("set log level", "level", lvl)
	return nil
}

// lastEdit returns the most recent interaction response edit, failing
// the test if none was recorded.
func (d *mockDiscordSession) lastEdit(t testing.TB) *discordgo.WebhookEdit {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.edits, "expected at least one interaction response edit")
	return d.edits[len(d.edits)-1]
}

func (d *mockDiscordSession) editCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.edits)
}

var _ DiscordSessionHandler = (*mockDiscordSession)(nil)

func TestMemberIsAdmin(t *testing.T) {
	d := &Discord{config: &DiscordConfig{AdminRoleID: "role-admin"}}

	tests := []struct {
		name    string
		i       *discordgo.InteractionCreate
		isAdmin bool
	}{
		{
			name: "dm interaction has no member",
			i: &discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{
					User: &discordgo.User{ID: "user-1"},
				},
			},
			isAdmin: false,
		},
		{
			name: "member with manage server permission",
			i: &discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{
					Member: &discordgo.Member{
						User:        &discordgo.User{ID: "user-1"},
						Permissions: discordgo.PermissionManageGuild,
					},
				},
			},
			isAdmin: true,
		},
		{
			name: "member with admin role",
			i: &discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{
					Member: &discordgo.Member{
						User:  &discordgo.User{ID: "user-1"},
						Roles: []string{"role-other", "role-admin"},
					},
				},
			},
			isAdmin: true,
		},
		{
			name: "member without role or permission",
			i: &discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{
					Member: &discordgo.Member{
						User:  &discordgo.User{ID: "user-1"},
						Roles: []string{"role-other"},
					},
				},
			},
			isAdmin: false,
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.isAdmin, d.memberIsAdmin(tc.i))
			},
		)
	}

	// no configured role: only the permission grants admin
	d.config.AdminRoleID = ""
	assert.False(
		t, d.memberIsAdmin(
			&discordgo.InteractionCreate{
				Interaction: &discordgo.Interaction{
					Member: &discordgo.Member{
						User:  &discordgo.User{ID: "user-1"},
						Roles: []string{"role-admin"},
					},
				},
			},
		),
	)
}

func TestAckResponse(t *testing.T) {
	resp := ackResponse(true)
	assert.Equal(
		t,
		discordgo.InteractionResponseDeferredChannelMessageWithSource,
		resp.Type,
	)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	resp = ackResponse(false)
	assert.Zero(t, resp.Data.Flags)
}

func TestRegisterCommands(t *testing.T) {
	mockSession := newMockDiscordSession()
	d := &Discord{
		session: mockSession,
		config:  &DiscordConfig{ApplicationID: "app-1"},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	created, err := d.registerCommands()
	require.NoError(t, err)

	names := make([]string, len(created))
	for i, c := range created {
		names[i] = c.Name
	}
	assert.Equal(
		t,
		[]string{
			DiscordSlashCommandCreateDoc,
			DiscordSlashCommandInvoice,
			DiscordSlashCommandReceipt,
			DiscordSlashCommandListDocs,
			DiscordSlashCommandListInvoices,
			DiscordSlashCommandListReceipts,
			DiscordSlashCommandReport,
		},
		names,
	)
}

func TestEditResponseAttachesFile(t *testing.T) {
	mockSession := newMockDiscordSession()
	d := &Discord{
		session: mockSession,
		config:  &DiscordConfig{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	interaction := &discordgo.Interaction{ID: "interaction-1"}
	require.NoError(
		t,
		d.editResponse(interaction, "done", "DOC-2024-001.pdf", []byte("%PDF-fake")),
	)

	edit := mockSession.lastEdit(t)
	require.NotNil(t, edit.Content)
	assert.Equal(t, "done", *edit.Content)
	require.NotNil(t, edit.Files)
	require.Len(t, edit.Files, 1)
	assert.Equal(t, "DOC-2024-001.pdf", edit.Files[0].Name)
	assert.Equal(t, "application/pdf", edit.Files[0].ContentType)
}

func TestEditResponseTruncatesContent(t *testing.T) {
	mockSession := newMockDiscordSession()
	d := &Discord{
		session: mockSession,
		config:  &DiscordConfig{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	long := make([]byte, discordMaxMessageLength*2)
	for i := range long {
		long[i] = 'a'
	}
	require.NoError(
		t,
		d.editResponse(&discordgo.Interaction{ID: "i"}, string(long), "", nil),
	)

	edit := mockSession.lastEdit(t)
	require.NotNil(t, edit.Content)
	assert.Len(t, *edit.Content, discordMaxMessageLength)
	assert.Nil(t, edit.Files)
}
