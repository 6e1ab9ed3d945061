package invbot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const (
	docCommandTypeOption    = "type"
	docCommandTitleOption   = "title"
	docCommandContentOption = "content"
)

// appCommandCreateDoc creates the ApplicationCommand for the
// `/createdoc` command, used to issue an internal office document.
func appCommandCreateDoc() *discordgo.ApplicationCommand {
	minLength := 1

	choices := make(
		[]*discordgo.ApplicationCommandOptionChoice,
		0,
		len(DocumentTypes()),
	)
	for _, dt := range DocumentTypes() {
		choices = append(
			choices, &discordgo.ApplicationCommandOptionChoice{
				Name:  dt.Label(),
				Value: string(dt),
			},
		)
	}

	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandCreateDoc,
		Description: "Issue an internal document (admin only)",
		Type:        discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        docCommandTypeOption,
				Description: "Document category",
				Required:    true,
				Choices:     choices,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        docCommandTitleOption,
				Description: "Document subject",
				Required:    true,
				MinLength:   &minLength,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        docCommandContentOption,
				Description: "Document body (use \\n for line breaks)",
				Required:    true,
				MinLength:   &minLength,
			},
		},
	}
}

// handleCreateDocument runs the document issuance pipeline for a
// `/createdoc` interaction. The interaction has already been
// acknowledged; the final outcome is delivered by editing the
// deferred response.
func (b *InvBot) handleCreateDocument(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = b.logger
	}
	pipeline := newIssuePipeline(RecordKindDocument, logger)
	user := getDiscordUser(i)

	opts := discordInteractionOptions(i)
	doc := &Document{
		Type:    DocumentType(stringOption(opts, docCommandTypeOption)),
		Title:   stringOption(opts, docCommandTitleOption),
		Content: unescapeNewlines(stringOption(opts, docCommandContentOption)),
	}
	doc.UserID = user.ID
	doc.Username = user.Username

	if err := doc.validate(); err != nil {
		b.respondFailure(i, pipeline.fail(err))
		return
	}
	pipeline.advance(IssueStateValidated)

	if err := b.authorizeCreate(i, user); err != nil {
		b.respondFailure(i, pipeline.fail(err))
		return
	}
	pipeline.advance(IssueStateAuthorized)

	if err := b.db.CreateDocument(ctx, doc); err != nil {
		b.respondFailure(i, pipeline.fail(err))
		return
	}
	pipeline.advance(IssueStateNumbered)
	pipeline.advance(IssueStatePersisted)

	// Render from the persisted record, not the raw input, so the
	// returned PDF matches the stored record exactly.
	data, result, err := b.renderer.RenderDocument(doc)
	if err != nil {
		b.respondFailure(
			i,
			pipeline.fail(&RenderError{SequenceNumber: doc.SequenceNumber, Err: err}),
		)
		return
	}
	pipeline.advance(IssueStateRendered)

	summary := fmt.Sprintf(
		"Document `%s` (%s) has been issued.",
		doc.SequenceNumber,
		doc.Type.Label(),
	)
	if result.Truncated {
		summary += "\nNote: the document body was too long and was truncated in the PDF."
	}
	if respondErr := b.discord.editResponse(
		i.Interaction, summary, result.Filename, data,
	); respondErr != nil {
		pipeline.logger.Error("error delivering response")
		return
	}
	pipeline.advance(IssueStateResponded)
}

func stringOption(
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) string {
	opt, ok := opts[name]
	if !ok {
		return ""
	}
	return opt.StringValue()
}

// unescapeNewlines converts literal `\n` sequences into real line
// breaks. Slash command string options can't contain newlines, so
// callers type them escaped.
func unescapeNewlines(s string) string {
	out := make([]rune, 0, len(s))
	runes := []rune(s)
	for n := 0; n < len(runes); n++ {
		if runes[n] == '\\' && n+1 < len(runes) && runes[n+1] == 'n' {
			out = append(out, '\n')
			n++
			continue
		}
		out = append(out, runes[n])
	}
	return string(out)
}
