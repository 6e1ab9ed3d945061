package invbot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	reportModalCustomID = "report_modal"

	reportTypeInputID  = "report_type"
	reportStartInputID = "report_start"
	reportEndInputID   = "report_end"

	reportDateLayout = "2006-01-02"

	// reportQueryLimit caps the number of documents included in one
	// report.
	reportQueryLimit = 500
)

// appCommandReport creates the ApplicationCommand for the `/report`
// command, which opens a modal to generate a document audit report.
func appCommandReport() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandReport,
		Description: "Generate a PDF report of issued documents",
		Type:        discordgo.ChatApplicationCommand,
	}
}

// reportModalResponse builds the modal shown in response to
// `/report`. All inputs are optional; empty inputs apply no
// restriction.
func reportModalResponse() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: reportModalCustomID,
			Title:    "Document report",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    reportTypeInputID,
							Label:       "Document type (empty = all)",
							Style:       discordgo.TextInputShort,
							Placeholder: "ex: certificate",
							Required:    false,
						},
					},
				},
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    reportStartInputID,
							Label:       "Start date (YYYY-MM-DD)",
							Style:       discordgo.TextInputShort,
							Placeholder: reportDateLayout,
							Required:    false,
						},
					},
				},
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    reportEndInputID,
							Label:       "End date (YYYY-MM-DD)",
							Style:       discordgo.TextInputShort,
							Placeholder: reportDateLayout,
							Required:    false,
						},
					},
				},
			},
		},
	}
}

// modalTextInputs flattens a modal submission into a map of text
// input custom IDs to their submitted values.
func modalTextInputs(data discordgo.ModalSubmitInteractionData) map[string]string {
	values := map[string]string{}
	for _, component := range data.Components {
		row, ok := component.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, rowComponent := range row.Components {
			input, inputOK := rowComponent.(*discordgo.TextInput)
			if !inputOK {
				continue
			}
			values[input.CustomID] = input.Value
		}
	}
	return values
}

// reportFilter builds the RecordFilter for a report modal
// submission. Non-administrators are restricted to their own
// documents, matching the browse flow's policy.
func (b *InvBot) reportFilter(
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	inputs map[string]string,
) (RecordFilter, error) {
	filter := b.visibilityFilter(i, user)

	if rawType := strings.TrimSpace(inputs[reportTypeInputID]); rawType != "" {
		docType := DocumentType(rawType)
		if !docType.Valid() {
			return filter, &ValidationError{
				Field:   "type",
				Message: fmt.Sprintf("unknown document type %q", rawType),
			}
		}
		filter.DocumentType = docType
	}

	if rawStart := strings.TrimSpace(inputs[reportStartInputID]); rawStart != "" {
		start, err := time.ParseInLocation(reportDateLayout, rawStart, time.UTC)
		if err != nil {
			return filter, &ValidationError{
				Field:   "start_date",
				Message: fmt.Sprintf("dates must look like %s", reportDateLayout),
			}
		}
		filter.From = start.UnixMilli()
	}

	if rawEnd := strings.TrimSpace(inputs[reportEndInputID]); rawEnd != "" {
		end, err := time.ParseInLocation(reportDateLayout, rawEnd, time.UTC)
		if err != nil {
			return filter, &ValidationError{
				Field:   "end_date",
				Message: fmt.Sprintf("dates must look like %s", reportDateLayout),
			}
		}
		// End date is inclusive
		filter.To = end.Add(24*time.Hour - time.Millisecond).UnixMilli()
	}

	if filter.From > 0 && filter.To > 0 && filter.From > filter.To {
		return filter, &ValidationError{
			Field:   "start_date",
			Message: "start date must not be after end date",
		}
	}

	return filter, nil
}

// handleReportModal generates the document report PDF from a
// submitted report modal. The interaction has already been
// acknowledged.
func (b *InvBot) handleReportModal(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = b.logger
	}
	user := getDiscordUser(i)
	inputs := modalTextInputs(i.ModalSubmitData())

	filter, err := b.reportFilter(i, user, inputs)
	if err != nil {
		b.respondFailure(i, err)
		return
	}

	docs, err := b.db.ListRecentDocuments(ctx, reportQueryLimit, filter)
	if err != nil {
		b.respondFailure(i, err)
		return
	}
	if len(docs) == 0 {
		if respondErr := b.discord.editResponse(
			i.Interaction, "No documents matched the report criteria.", "", nil,
		); respondErr != nil {
			logger.Error("error delivering empty report response", tint.Err(respondErr))
		}
		return
	}

	data, result, err := b.renderer.RenderDocumentReport(
		docs, user.Username, time.Now().UTC(),
	)
	if err != nil {
		b.respondFailure(i, fmt.Errorf("rendering report: %w", err))
		return
	}

	content := fmt.Sprintf("Report covering %d document(s):", len(docs))
	if respondErr := b.discord.editResponse(
		i.Interaction, content, result.Filename, data,
	); respondErr != nil {
		logger.Error("error delivering report", tint.Err(respondErr))
	}
}
