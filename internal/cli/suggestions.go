package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/gridlink-project/gridlink/pkg/color"
	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/gridlink"
	"github.com/gridlink-project/gridlink/pkg/model"
)

// suggestRestarts lists records whose remote path resembles id's.
func suggestRestarts(ctx context.Context, c *gridlink.Client, id model.RestartIdentifier) string {
	recs, _ := c.Ledger().List(ctx)
	if len(recs) == 0 {
		return "The restart ledger is empty."
	}

	base := strings.ToLower(lastElem(id.AbsolutePath))
	var matches []string
	for _, rec := range recs {
		if strings.Contains(strings.ToLower(rec.AbsolutePath), base) {
			matches = append(matches, fmt.Sprintf("%s %s", rec.Type, color.Success(rec.AbsolutePath)))
		}
		if len(matches) == 3 {
			break
		}
	}
	if len(matches) > 0 {
		hint := "Did you mean"
		if len(matches) > 1 {
			hint += " one of"
		}
		return fmt.Sprintf("%s: %s?", hint, strings.Join(matches, ", "))
	}
	return fmt.Sprintf("Run %s to see recorded transfers.", color.Info("gridlink restart list"))
}

func lastElem(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// formatRestartNotFound formats a missing record error with suggestions.
func formatRestartNotFound(ctx context.Context, c *gridlink.Client, id model.RestartIdentifier) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("no restart record for %s", id))
	sb.WriteString("\n")
	sb.WriteString(color.Dim("  " + suggestRestarts(ctx, c, id)))
	return sb.String()
}

// hintFor returns a follow-up hint for well-known error codes, or "".
func hintFor(err error) string {
	switch errclass.Code(err) {
	case errclass.ErrNegotiationFailed.Code:
		return fmt.Sprintf("The server's security posture is incompatible with the client's. Check %s.", color.Info("connection.negotiation_policy"))
	case errclass.ErrChannelPromotion.Code:
		return fmt.Sprintf("The TLS handshake failed. Check %s and %s.", color.Info("connection.tls.ca_file"), color.Info("connection.tls.server_name"))
	case errclass.ErrConfigInvalid.Code:
		return fmt.Sprintf("Run %s to see the effective configuration.", color.Info("gridlink config show"))
	case errclass.ErrRestartExhausted.Code:
		return fmt.Sprintf("Run %s to start over.", color.Info("gridlink restart delete <type> <remote-path>"))
	case errclass.ErrRestartCorrupt.Code:
		return fmt.Sprintf("Run %s to drop inconsistent records.", color.Info("gridlink doctor --repair drop_corrupt"))
	}
	return ""
}
