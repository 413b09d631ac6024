package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"
)

// TransitionEvent describes a committed lead state change.
type TransitionEvent struct {
	LeadID    int64
	LeadTitle string
	DeskID    int64
	FromState string
	ToState   string
	IsFinal   bool
	UserID    int64
	UserName  string
	Comment   *string
	At        time.Time
}

type Notifier interface {
	Name() string
	NotifyTransition(ctx context.Context, ev TransitionEvent) error
}

// MultiNotifier fans an event out to every channel; one failing channel
// does not stop the others.
type MultiNotifier struct {
	notifiers []Notifier
	log       *slog.Logger
	metrics   *Metrics
}

func NewMultiNotifier(logger *slog.Logger, metrics *Metrics, notifiers ...Notifier) *MultiNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiNotifier{notifiers: notifiers, log: logger, metrics: metrics}
}

func (m *MultiNotifier) Name() string { return "multi" }

func (m *MultiNotifier) Len() int { return len(m.notifiers) }

func (m *MultiNotifier) NotifyTransition(ctx context.Context, ev TransitionEvent) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.NotifyTransition(ctx, ev); err != nil {
			m.metrics.notifyFailed(n.Name())
			m.log.Warn("transition notification failed", "channel", n.Name(), "lead_id", ev.LeadID, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func transitionSubject(ev TransitionEvent) string {
	return fmt.Sprintf("Lead #%d moved to %s", ev.LeadID, ev.ToState)
}

// transitionHTML is shared by the Telegram and email channels; both accept
// basic HTML markup.
func transitionHTML(ev TransitionEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Lead #%d</b>", ev.LeadID)
	if ev.LeadTitle != "" {
		fmt.Fprintf(&b, " %s", html.EscapeString(ev.LeadTitle))
	}
	b.WriteString("\n")
	from := ev.FromState
	if from == "" {
		from = "-"
	}
	fmt.Fprintf(&b, "%s → <b>%s</b>", html.EscapeString(from), html.EscapeString(ev.ToState))
	if ev.IsFinal {
		b.WriteString(" (final)")
	}
	b.WriteString("\n")
	who := ev.UserName
	if who == "" {
		who = fmt.Sprintf("user #%d", ev.UserID)
	}
	fmt.Fprintf(&b, "By: %s at %s", html.EscapeString(who), ev.At.UTC().Format("2006-01-02 15:04 MST"))
	if ev.Comment != nil {
		fmt.Fprintf(&b, "\nComment: <i>%s</i>", html.EscapeString(*ev.Comment))
	}
	return b.String()
}

func htmlLines(s string) string {
	return strings.ReplaceAll(s, "\n", "<br>")
}
