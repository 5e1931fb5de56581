// Package notify posts end-of-session reports to chat channels.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kmajdoub/botfleet/internal/session"
)

// Multi fans a notification out to several notifiers. Failures are
// logged and do not stop delivery to the others.
type Multi []interface {
	SessionEnded(ctx context.Context, sum session.RunSummary) error
}

// SessionEnded delivers the summary to every notifier. The returned
// error is the last failure, if any.
func (m Multi) SessionEnded(ctx context.Context, sum session.RunSummary) error {
	var last error
	for _, n := range m {
		if err := n.SessionEnded(ctx, sum); err != nil {
			log.Printf("notify: %v", err)
			last = err
		}
	}
	return last
}

// formatRuntime renders a duration as "2h 15m" / "45m" / "30s".
func formatRuntime(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

// summaryText builds the plain-text report used by all channels.
func summaryText(sum session.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s (%s) ended: %s", sum.SessionID, sum.Leader, sum.Status)
	if sum.StatusReason != "" {
		fmt.Fprintf(&b, " (%s)", sum.StatusReason)
	}
	fmt.Fprintf(&b, "\nRuntime: %s", formatRuntime(sum.TotalRunTime))
	if sum.NumberOfRestarts > 0 {
		fmt.Fprintf(&b, " (%d restarts)", sum.NumberOfRestarts)
	}
	fmt.Fprintf(&b, "\nKamas: %d | Fights: %d | Levels: %d",
		sum.EarnedKamas, sum.NbrFightsDone, sum.EarnedLevels)
	return b.String()
}
