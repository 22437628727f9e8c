package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

func renderSubject(msg Message) string {
	if msg.Role == RoleClient {
		return fmt.Sprintf("Good news about %s rates", msg.Data.SeriesLabel)
	}
	return fmt.Sprintf("[Rate Alert] %s hit %s%% for %s",
		msg.Data.SeriesLabel,
		msg.Data.ObservedRate.StringFixed(2),
		msg.Data.ClientName,
	)
}

func renderBody(msg Message) string {
	if msg.Role == RoleClient {
		return renderClientBody(msg.Data)
	}
	return renderOwnerBody(msg.Data)
}

// Owner copy is terse: the numbers and a direct action link.
func renderOwnerBody(data TemplateData) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s is at %s%%, at or below the %s%% target for %s.\n",
		data.SeriesLabel,
		data.ObservedRate.StringFixed(2),
		data.TargetRate.StringFixed(2),
		data.ClientName,
	))
	if data.MonthlySavings.IsPositive() {
		builder.WriteString(fmt.Sprintf("Estimated savings vs. target: %s/mo.\n", formatUSD(data.MonthlySavings)))
	}
	if data.ActionURL != "" {
		builder.WriteString(fmt.Sprintf("Review and reach out: %s\n", data.ActionURL))
	}
	return builder.String()
}

// Client copy is warmer and hands the conversation to the owner.
func renderClientBody(data TemplateData) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Hi %s,\n\n", data.ClientName))
	builder.WriteString(fmt.Sprintf(
		"Rates just moved in your favor: the %s rate is now %s%%, which is at or below the %s%% you were waiting for.\n\n",
		data.SeriesLabel,
		data.ObservedRate.StringFixed(2),
		data.TargetRate.StringFixed(2),
	))
	if data.MonthlySavings.IsPositive() {
		builder.WriteString(fmt.Sprintf("On a typical loan that could mean around %s less per month.\n\n", formatUSD(data.MonthlySavings)))
	}
	if data.OwnerName != "" {
		builder.WriteString(fmt.Sprintf("Reach out to %s to talk through your options", data.OwnerName))
		contact := ownerContactLine(data)
		if contact != "" {
			builder.WriteString(" (" + contact + ")")
		}
		builder.WriteString(".\n")
	}
	return builder.String()
}

func ownerContactLine(data TemplateData) string {
	parts := make([]string, 0, 2)
	if data.OwnerEmail != "" {
		parts = append(parts, data.OwnerEmail)
	}
	if data.OwnerPhone != "" {
		parts = append(parts, data.OwnerPhone)
	}
	return strings.Join(parts, ", ")
}

func formatUSD(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
