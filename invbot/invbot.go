// Package invbot implements a Discord bot for issuing office
// documents, tax invoices, and payment receipts. Records are
// persisted to a relational store with per-kind, per-year sequence
// numbers, rendered to PDF, and returned as chat attachments. A
// browse flow lists recent records and re-renders them on demand.
package invbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/Sanstheink/Inv-bot/invbot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// InvBot is the top-level bot: it owns the record store, the Discord
// session, the PDF renderer, and the optional read-only API server.
// Each incoming interaction runs its own pipeline; there is no shared
// mutable state beyond the backing store and the rate limiters.
type InvBot struct {
	config   *Config
	db       DBI
	discord  *Discord
	renderer Renderer
	logger   *slog.Logger

	limiterMu    sync.Mutex
	userLimiters map[string]*rate.Limiter

	apiServer *http.Server
}

// New validates the given config and assembles a bot. The database
// and Discord session aren't touched until Run.
func New(config *Config) (*InvBot, error) {
	if config == nil {
		config = DefaultConfig()
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.SetTagName("binding")
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{Level: config.LogLevel, AddSource: true},
	)
	logger := slog.New(handler).With(loggerNameKey, "invbot")

	discord := newDiscord(config.Discord)
	discord.logger = slog.New(
		tint.NewHandler(
			os.Stdout,
			&tint.Options{Level: config.Discord.LogLevel, AddSource: true},
		),
	).With(loggerNameKey, "discord")

	b := &InvBot{
		config:       config,
		discord:      discord,
		renderer:     NewPDFRenderer(logger),
		logger:       logger,
		userLimiters: map[string]*rate.Limiter{},
	}
	discord.bot = b
	return b, nil
}

// Run initializes the store and Discord session, registers the slash
// commands, and blocks until ctx is canceled or a component fails.
func (b *InvBot) Run(ctx context.Context) error {
	startupCtx, startupCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startupCancel()

	dbHandler := tint.NewHandler(
		os.Stdout,
		&tint.Options{Level: b.config.DatabaseLogLevel, AddSource: true},
	)
	gormDB, err := CreateDB(
		startupCtx,
		b.config.DatabaseType,
		b.config.Database,
		dbHandler,
		b.config.DatabaseSlowThreshold,
	)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	b.db = NewDatabase(
		gormDB,
		b.logger,
		b.config.DatabaseType == dbTypePostgres,
	)

	discordgo.Logger = discordgoLoggerFunc(
		ctx,
		tint.NewHandler(
			os.Stdout,
			&tint.Options{Level: b.config.Discord.DiscordGoLogLevel},
		),
	)

	session, err := b.discord.newSession()
	if err != nil {
		return err
	}
	b.discord.session = session

	b.discord.discordgoRemoveHandlerFuncs = append(
		b.discord.discordgoRemoveHandlerFuncs,
		session.AddHandler(b.discord.handlerReady()),
		session.AddHandler(b.discord.handlerConnect()),
		session.AddHandler(b.discord.handlerDisconnect()),
		session.AddHandler(b.handlerInteractionCreate(ctx)),
	)

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	if _, err = b.discord.registerCommands(); err != nil {
		_ = session.Close()
		return fmt.Errorf("error registering commands: %w", err)
	}
	startupCancel()

	b.logger.Info("startup complete", "config", b.config)

	eg, egCtx := errgroup.WithContext(ctx)

	if b.config.API.Enabled {
		b.apiServer = b.newAPIServer()
		eg.Go(
			func() error {
				listener, listenErr := net.Listen(
					b.config.API.ListenNetwork,
					b.config.API.Listen,
				)
				if listenErr != nil {
					return listenErr
				}
				b.logger.Info("api listening", "listen", b.config.API.Listen)
				serveErr := b.apiServer.Serve(listener)
				if errors.Is(serveErr, http.ErrServerClosed) {
					return nil
				}
				return serveErr
			},
		)
		eg.Go(
			func() error {
				<-egCtx.Done()
				shutdownCtx, cancel := context.WithTimeout(
					context.Background(),
					b.config.ShutdownTimeout,
				)
				defer cancel()
				return b.apiServer.Shutdown(shutdownCtx)
			},
		)
	}

	eg.Go(
		func() error {
			<-egCtx.Done()
			b.logger.Info("shutting down")
			for _, removeHandler := range b.discord.discordgoRemoveHandlerFuncs {
				removeHandler()
			}
			return session.Close()
		},
	)

	return eg.Wait()
}

// handlerInteractionCreate routes incoming interactions: slash
// commands, browse select menus, and the report modal.
func (b *InvBot) handlerInteractionCreate(ctx context.Context) func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.handleInteraction(ctx, i)
	}
}

func (b *InvBot) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := b.logger.With(interactionLogAttrs(*i)...)
	ctx = WithLogger(ctx, logger)

	user := getDiscordUser(i)
	if user == nil {
		logger.Warn("no user found on interaction")
		return
	}
	logger = logger.With(columnUserID, user.ID, "username", user.Username)
	ctx = WithLogger(ctx, logger)

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleApplicationCommand(ctx, i, user)
	case discordgo.InteractionMessageComponent:
		customID := i.MessageComponentData().CustomID
		if !strings.HasPrefix(customID, browseCustomIDPrefix+":") {
			logger.Warn("unknown component interaction", "custom_id", customID)
			return
		}
		if err := b.ack(i, true); err != nil {
			logger.Error("error acknowledging interaction", tint.Err(err))
			return
		}
		b.handleBrowseSelect(ctx, i)
	case discordgo.InteractionModalSubmit:
		if i.ModalSubmitData().CustomID != reportModalCustomID {
			logger.Warn(
				"unknown modal submission",
				"custom_id", i.ModalSubmitData().CustomID,
			)
			return
		}
		if err := b.ack(i, true); err != nil {
			logger.Error("error acknowledging interaction", tint.Err(err))
			return
		}
		b.handleReportModal(ctx, i)
	default:
		logger.Warn("unhandled interaction type")
	}
}

func (b *InvBot) handleApplicationCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) {
	logger, _ := ContextLogger(ctx)
	commandName := i.ApplicationCommandData().Name
	logger = logger.With("command", commandName)
	ctx = WithLogger(ctx, logger)

	switch commandName {
	case DiscordSlashCommandCreateDoc, DiscordSlashCommandInvoice, DiscordSlashCommandReceipt:
		if err := b.ack(i, false); err != nil {
			logger.Error("error acknowledging interaction", tint.Err(err))
			return
		}
		if !b.allowCreate(user.ID) {
			b.respondFailure(i, ErrRateLimited)
			return
		}
		switch commandName {
		case DiscordSlashCommandCreateDoc:
			b.handleCreateDocument(ctx, i)
		case DiscordSlashCommandInvoice:
			b.handleCreateInvoice(ctx, i)
		case DiscordSlashCommandReceipt:
			b.handleCreateReceipt(ctx, i)
		}
	case DiscordSlashCommandListDocs:
		b.ackAndList(ctx, i, RecordKindDocument)
	case DiscordSlashCommandListInvoices:
		b.ackAndList(ctx, i, RecordKindInvoice)
	case DiscordSlashCommandListReceipts:
		b.ackAndList(ctx, i, RecordKindReceipt)
	case DiscordSlashCommandReport:
		// Modals must be the immediate interaction response - no
		// deferred ack here.
		if err := b.discord.session.InteractionRespond(
			i.Interaction, reportModalResponse(),
		); err != nil {
			logger.Error("error opening report modal", tint.Err(err))
		}
	default:
		logger.Warn("unknown command")
	}
}

func (b *InvBot) ackAndList(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	kind RecordKind,
) {
	logger, _ := ContextLogger(ctx)
	if err := b.ack(i, true); err != nil {
		logger.Error("error acknowledging interaction", tint.Err(err))
		return
	}
	b.handleListRecords(ctx, i, kind)
}

// ack defers the interaction response so the pipeline can take longer
// than the interaction deadline.
func (b *InvBot) ack(i *discordgo.InteractionCreate, ephemeral bool) error {
	return b.discord.session.InteractionRespond(
		i.Interaction,
		ackResponse(ephemeral),
	)
}

// respondFailure edits the deferred response with the caller-visible
// message for the given failure. Every failure path ends here - no
// error is silently swallowed.
func (b *InvBot) respondFailure(i *discordgo.InteractionCreate, err error) {
	b.logger.Warn(
		"interaction failed",
		tint.Err(err),
		"interaction_id", i.ID,
	)
	if editErr := b.discord.editResponse(
		i.Interaction, userMessage(err), "", nil,
	); editErr != nil {
		b.logger.Error("error delivering failure message", tint.Err(editErr))
	}
}

// allowCreate applies the per-user creation rate limit.
func (b *InvBot) allowCreate(userID string) bool {
	perMinute := b.config.CreateCommandsPerMinute
	if perMinute <= 0 {
		return true
	}
	b.limiterMu.Lock()
	limiter, ok := b.userLimiters[userID]
	if !ok {
		limiter = rate.NewLimiter(
			rate.Every(time.Minute/time.Duration(perMinute)),
			perMinute,
		)
		b.userLimiters[userID] = limiter
	}
	b.limiterMu.Unlock()
	return limiter.Allow()
}

// authorizeCreate enforces the administrative capability required to
// issue records. Listing and browsing are open to all callers,
// restricted to their own records by visibilityFilter.
func (b *InvBot) authorizeCreate(
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) error {
	if b.discord.memberIsAdmin(i) {
		return nil
	}
	b.logger.Info(
		"denied record creation",
		columnUserID, user.ID,
		"username", user.Username,
	)
	return ErrPermissionDenied
}
