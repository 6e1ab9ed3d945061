package invbot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
)

const (
	receiptCommandShopOption     = "shop"
	receiptCommandCustomerOption = "customer"
	receiptCommandItemsOption    = "items"
	receiptCommandTotalOption    = "total"
)

// appCommandReceipt creates the ApplicationCommand for the `/receipt`
// command, used to issue a payment receipt.
func appCommandReceipt() *discordgo.ApplicationCommand {
	minLength := 1
	minTotal := 0.0

	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandReceipt,
		Description: "Issue a payment receipt (admin only)",
		Type:        discordgo.ChatApplicationCommand,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        receiptCommandShopOption,
				Description: "Shop name",
				Required:    true,
				MinLength:   &minLength,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        receiptCommandCustomerOption,
				Description: "Customer name",
				Required:    true,
				MinLength:   &minLength,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        receiptCommandItemsOption,
				Description: "Description of purchased items",
				Required:    true,
				MinLength:   &minLength,
			},
			{
				Type:        discordgo.ApplicationCommandOptionNumber,
				Name:        receiptCommandTotalOption,
				Description: "Amount paid",
				Required:    true,
				MinValue:    &minTotal,
			},
		},
	}
}

// handleCreateReceipt runs the receipt issuance pipeline for a
// `/receipt` interaction.
func (b *InvBot) handleCreateReceipt(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = b.logger
	}
	pipeline := newIssuePipeline(RecordKindReceipt, logger)
	user := getDiscordUser(i)

	opts := discordInteractionOptions(i)
	var total decimal.Decimal
	if opt, hasTotal := opts[receiptCommandTotalOption]; hasTotal {
		total = decimal.NewFromFloat(opt.FloatValue()).Round(2)
	}

	rec := &Receipt{
		Shop:             stringOption(opts, receiptCommandShopOption),
		Customer:         stringOption(opts, receiptCommandCustomerOption),
		ItemsDescription: unescapeNewlines(stringOption(opts, receiptCommandItemsOption)),
		Total:            total,
	}
	rec.UserID = user.ID
	rec.Username = user.Username

	if err := rec.validate(); err != nil {
		b.respondFailure(i, pipeline.fail(err))
		return
	}
	pipeline.advance(IssueStateValidated)

	if err := b.authorizeCreate(i, user); err != nil {
		b.respondFailure(i, pipeline.fail(err))
		return
	}
	pipeline.advance(IssueStateAuthorized)

	if err := b.db.CreateReceipt(ctx, rec); err != nil {
		b.respondFailure(i, pipeline.fail(err))
		return
	}
	pipeline.advance(IssueStateNumbered)
	pipeline.advance(IssueStatePersisted)

	data, result, err := b.renderer.RenderReceipt(rec)
	if err != nil {
		b.respondFailure(
			i,
			pipeline.fail(&RenderError{SequenceNumber: rec.SequenceNumber, Err: err}),
		)
		return
	}
	pipeline.advance(IssueStateRendered)

	summary := fmt.Sprintf(
		"Receipt `%s` has been issued.\nAmount: %s",
		rec.SequenceNumber,
		rec.Total.StringFixed(2),
	)
	if result.Truncated {
		summary += "\nNote: the item description was too long and was truncated in the PDF."
	}
	if respondErr := b.discord.editResponse(
		i.Interaction, summary, result.Filename, data,
	); respondErr != nil {
		pipeline.logger.Error("error delivering response")
		return
	}
	pipeline.advance(IssueStateResponded)
}
