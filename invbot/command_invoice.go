package invbot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

const (
	invoiceCommandCustomerOption = "customer"
	invoiceCommandItemsOption    = "items"
	invoiceCommandVATOption      = "vat"
)

// appCommandInvoice creates the ApplicationCommand for the `/invoice`
// command, used to issue a tax invoice.
func appCommandInvoice() *discordgo.ApplicationCommand {
	minLength := 1

	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandInvoice,
		Description: "Issue a tax invoice (admin only)",
		Type:        discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        invoiceCommandCustomerOption,
				Description: "Customer name",
				Required:    true,
				MinLength:   &minLength,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        invoiceCommandItemsOption,
				Description: `Items as JSON, ex: [{"name":"Widget","qty":2,"price":100}]`,
				Required:    true,
				MinLength:   &minLength,
			},
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        invoiceCommandVATOption,
				Description: "Apply 7% VAT",
				Required:    true,
			},
		},
	}
}

// handleCreateInvoice runs the invoice issuance pipeline for an
// `/invoice` interaction.
func (b *InvBot) handleCreateInvoice(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = b.logger
	}
	pipeline := newIssuePipeline(RecordKindInvoice, logger)
	user := getDiscordUser(i)

	opts := discordInteractionOptions(i)
	items, err := ParseInvoiceItems(stringOption(opts, invoiceCommandItemsOption))
	if err != nil {
		b.respondFailure(i, pipeline.fail(err))
		return
	}

	var vatApplied bool
	if opt, hasVAT := opts[invoiceCommandVATOption]; hasVAT {
		vatApplied = opt.BoolValue()
	}

	inv := &Invoice{
		Customer:   stringOption(opts, invoiceCommandCustomerOption),
		Items:      items,
		VATApplied: vatApplied,
	}
	inv.UserID = user.ID
	inv.Username = user.Username

	if err = inv.validate(); err != nil {
		b.respondFailure(i, pipeline.fail(err))
		return
	}
	pipeline.advance(IssueStateValidated)

	if err = b.authorizeCreate(i, user); err != nil {
		b.respondFailure(i, pipeline.fail(err))
		return
	}
	pipeline.advance(IssueStateAuthorized)

	// CreateInvoice derives the totals before persisting - the stored
	// record, not the raw input, is what gets rendered.
	if err = b.db.CreateInvoice(ctx, inv); err != nil {
		b.respondFailure(i, pipeline.fail(err))
		return
	}
	pipeline.advance(IssueStateNumbered)
	pipeline.advance(IssueStatePersisted)

	data, result, err := b.renderer.RenderInvoice(inv)
	if err != nil {
		b.respondFailure(
			i,
			pipeline.fail(&RenderError{SequenceNumber: inv.SequenceNumber, Err: err}),
		)
		return
	}
	pipeline.advance(IssueStateRendered)

	summary := fmt.Sprintf(
		"Invoice `%s` has been issued.\nGrand total: %s",
		inv.SequenceNumber,
		inv.GrandTotal.StringFixed(2),
	)
	if respondErr := b.discord.editResponse(
		i.Interaction, summary, result.Filename, data,
	); respondErr != nil {
		pipeline.logger.Error("error delivering response")
		return
	}
	pipeline.advance(IssueStateResponded)
}
