package invbot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

// browseCustomIDPrefix marks select-menu components owned by the
// browse flow. The full custom ID is `browse:{kind}:{nonce}`.
const browseCustomIDPrefix = "browse"

// appCommandList creates one of the list/browse ApplicationCommands
// (`/listdocs`, `/listinvoices`, `/listreceipts`).
func appCommandList(name string, description string) *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        name,
		Description: description,
		Type:        discordgo.ChatApplicationCommand,
	}
}

func browseCustomID(kind RecordKind) string {
	return fmt.Sprintf(
		"%s:%s:%s",
		browseCustomIDPrefix,
		kind.String(),
		uuid.NewString(),
	)
}

// browseKindFromCustomID extracts the record kind from a browse
// select-menu custom ID.
func browseKindFromCustomID(customID string) (RecordKind, error) {
	parts := strings.Split(customID, ":")
	if len(parts) != 3 || parts[0] != browseCustomIDPrefix {
		return "", fmt.Errorf("malformed browse custom ID: %q", customID)
	}
	kind := RecordKind(parts[1])
	if kind.Prefix() == "" {
		return "", fmt.Errorf("unknown record kind in custom ID: %q", parts[1])
	}
	return kind, nil
}

// visibilityFilter returns the RecordFilter enforcing the browse
// policy: non-administrators only see records they created. The same
// filter backs both listing and per-id re-rendering, so an id can't
// be used to bypass the restriction.
func (b *InvBot) visibilityFilter(
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) RecordFilter {
	if b.discord.memberIsAdmin(i) {
		return RecordFilter{}
	}
	return RecordFilter{UserID: user.ID}
}

// canViewRecord applies the same policy as visibilityFilter to a
// single fetched record.
func (b *InvBot) canViewRecord(
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	creatorID string,
) bool {
	if b.discord.memberIsAdmin(i) {
		return true
	}
	return creatorID == user.ID
}

type browseOption struct {
	id          uint
	label       string
	description string
}

// handleListRecords responds to a list command with a select menu of
// the caller's recent records. Picking an entry re-renders that
// record's PDF.
func (b *InvBot) handleListRecords(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	kind RecordKind,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = b.logger
	}
	user := getDiscordUser(i)
	filter := b.visibilityFilter(i, user)

	options, err := b.browseOptions(ctx, kind, filter)
	if err != nil {
		b.respondFailure(i, err)
		return
	}
	if len(options) == 0 {
		if respondErr := b.discord.editResponse(
			i.Interaction,
			fmt.Sprintf("No %ss found.", kind.String()),
			"", nil,
		); respondErr != nil {
			logger.Error("error delivering empty list response", tint.Err(respondErr))
		}
		return
	}

	selectOptions := make([]discordgo.SelectMenuOption, 0, len(options))
	for _, opt := range options {
		selectOptions = append(
			selectOptions, discordgo.SelectMenuOption{
				Label:       truncate(opt.label, discordSelectLabelMaxLength),
				Description: truncate(opt.description, discordSelectLabelMaxLength),
				Value:       strconv.FormatUint(uint64(opt.id), 10),
			},
		)
	}

	minValues := 1
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    browseCustomID(kind),
					Placeholder: "Pick a record to re-render...",
					MinValues:   &minValues,
					MaxValues:   1,
					Options:     selectOptions,
				},
			},
		},
	}

	content := fmt.Sprintf("Recent %ss:", kind.String())
	edit := &discordgo.WebhookEdit{
		Content:    &content,
		Components: &components,
	}
	if _, err = b.discord.session.InteractionResponseEdit(
		i.Interaction, edit,
	); err != nil {
		logger.Error("error delivering list response", tint.Err(err))
	}
}

// browseOptions lists the most recent records of the given kind and
// formats each as a select menu entry.
func (b *InvBot) browseOptions(
	ctx context.Context,
	kind RecordKind,
	filter RecordFilter,
) ([]browseOption, error) {
	limit := DefaultBrowseListLimit
	if limit > discordMaxSelectOptions {
		limit = discordMaxSelectOptions
	}

	switch kind {
	case RecordKindDocument:
		docs, err := b.db.ListRecentDocuments(ctx, limit, filter)
		if err != nil {
			return nil, err
		}
		options := make([]browseOption, 0, len(docs))
		for _, doc := range docs {
			options = append(
				options, browseOption{
					id:    doc.ID,
					label: fmt.Sprintf("%s - %s", doc.SequenceNumber, doc.Title),
					description: fmt.Sprintf(
						"%s | %s",
						doc.Type.Label(),
						formatRecordTime(doc.CreatedAt),
					),
				},
			)
		}
		return options, nil
	case RecordKindInvoice:
		invoices, err := b.db.ListRecentInvoices(ctx, limit, filter)
		if err != nil {
			return nil, err
		}
		options := make([]browseOption, 0, len(invoices))
		for _, inv := range invoices {
			options = append(
				options, browseOption{
					id:    inv.ID,
					label: fmt.Sprintf("%s - %s", inv.SequenceNumber, inv.Customer),
					description: fmt.Sprintf(
						"%s | %s",
						inv.GrandTotal.StringFixed(2),
						formatRecordTime(inv.CreatedAt),
					),
				},
			)
		}
		return options, nil
	case RecordKindReceipt:
		receipts, err := b.db.ListRecentReceipts(ctx, limit, filter)
		if err != nil {
			return nil, err
		}
		options := make([]browseOption, 0, len(receipts))
		for _, rec := range receipts {
			options = append(
				options, browseOption{
					id: rec.ID,
					label: fmt.Sprintf(
						"%s - %s (%s)",
						rec.SequenceNumber,
						rec.Shop,
						rec.Customer,
					),
					description: fmt.Sprintf(
						"%s | %s",
						rec.Total.StringFixed(2),
						formatRecordTime(rec.CreatedAt),
					),
				},
			)
		}
		return options, nil
	default:
		return nil, fmt.Errorf("unknown record kind: %q", string(kind))
	}
}

// handleBrowseSelect handles the select-menu component interaction:
// it fetches the chosen record, re-checks visibility, re-renders the
// PDF and delivers it.
func (b *InvBot) handleBrowseSelect(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = b.logger
	}
	user := getDiscordUser(i)

	componentData := i.MessageComponentData()
	kind, err := browseKindFromCustomID(componentData.CustomID)
	if err != nil {
		logger.Error("error decoding custom_id", tint.Err(err))
		b.respondFailure(i, &ValidationError{Field: "selection", Message: "malformed selection"})
		return
	}
	if len(componentData.Values) != 1 {
		b.respondFailure(i, &ValidationError{Field: "selection", Message: "exactly one record must be selected"})
		return
	}
	id, err := strconv.ParseUint(componentData.Values[0], 10, 64)
	if err != nil {
		b.respondFailure(i, &ValidationError{Field: "selection", Message: "malformed record id"})
		return
	}

	data, result, err := b.renderByID(ctx, i, user, kind, uint(id))
	if err != nil {
		b.respondFailure(i, err)
		return
	}

	content := fmt.Sprintf("Here's `%s`:", strings.TrimSuffix(result.Filename, ".pdf"))
	if respondErr := b.discord.editResponse(
		i.Interaction, content, result.Filename, data,
	); respondErr != nil {
		logger.Error("error delivering selected record", tint.Err(respondErr))
	}
}

// renderByID fetches a record by id, enforces the visibility policy,
// and re-renders its PDF from the stored fields.
func (b *InvBot) renderByID(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	kind RecordKind,
	id uint,
) ([]byte, RenderResult, error) {
	switch kind {
	case RecordKindDocument:
		doc, err := b.db.GetDocument(ctx, id)
		if err != nil {
			return nil, RenderResult{}, err
		}
		if !b.canViewRecord(i, user, doc.UserID) {
			return nil, RenderResult{}, ErrPermissionDenied
		}
		data, result, err := b.renderer.RenderDocument(doc)
		if err != nil {
			return nil, RenderResult{}, &RenderError{SequenceNumber: doc.SequenceNumber, Err: err}
		}
		return data, result, nil
	case RecordKindInvoice:
		inv, err := b.db.GetInvoice(ctx, id)
		if err != nil {
			return nil, RenderResult{}, err
		}
		if !b.canViewRecord(i, user, inv.UserID) {
			return nil, RenderResult{}, ErrPermissionDenied
		}
		data, result, err := b.renderer.RenderInvoice(inv)
		if err != nil {
			return nil, RenderResult{}, &RenderError{SequenceNumber: inv.SequenceNumber, Err: err}
		}
		return data, result, nil
	case RecordKindReceipt:
		rec, err := b.db.GetReceipt(ctx, id)
		if err != nil {
			return nil, RenderResult{}, err
		}
		if !b.canViewRecord(i, user, rec.UserID) {
			return nil, RenderResult{}, ErrPermissionDenied
		}
		data, result, err := b.renderer.RenderReceipt(rec)
		if err != nil {
			return nil, RenderResult{}, &RenderError{SequenceNumber: rec.SequenceNumber, Err: err}
		}
		return data, result, nil
	default:
		return nil, RenderResult{}, fmt.Errorf("unknown record kind: %q", string(kind))
	}
}
