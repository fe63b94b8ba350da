// Package notify delivers operator alerts to chat channels. Each alert has an
// event type and the Notifier forwards only the types an operator opted in to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/oddsmath"
)

// Event types understood by the Notifier filter.
const (
	EventIncident     = "incident"
	EventCycleSummary = "cycle_summary"
	EventSettlement   = "wager_settled"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to every registered Sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Allows reports whether event passes the filter.
func (n *Notifier) Allows(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify sends title and message when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Allows(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyIncident formats and sends a data quality incident.
func (n *Notifier) NotifyIncident(ctx context.Context, inc domain.Incident) error {
	return n.Notify(ctx, EventIncident, IncidentTitle(inc), IncidentMessage(inc))
}

// NotifySettlement formats and sends a settled wager.
func (n *Notifier) NotifySettlement(ctx context.Context, w domain.Wager) error {
	return n.Notify(ctx, EventSettlement, SettlementTitle(w), SettlementMessage(w))
}

// dispatch delivers to every sender; one failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// IncidentTitle is the headline for an incident alert.
func IncidentTitle(inc domain.Incident) string {
	return fmt.Sprintf("[%s] data incident: %s", strings.ToUpper(string(inc.Severity)), inc.DataType)
}

// IncidentMessage renders the incident body with context keys in sorted order.
func IncidentMessage(inc domain.Incident) string {
	var b strings.Builder
	if len(inc.MissingFields) > 0 {
		fmt.Fprintf(&b, "fields: %s\n", strings.Join(inc.MissingFields, ", "))
	}
	keys := make([]string, 0, len(inc.Context))
	for k := range inc.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, inc.Context[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

// CycleSummary renders the outcome of one decision cycle.
func CycleSummary(accountID, date string, singles int, parlays []string, ledger domain.BankrollLedger) string {
	var b strings.Builder
	fmt.Fprintf(&b, "account %s, %s\n", accountID, date)
	fmt.Fprintf(&b, "singles placed: %d\n", singles)
	if len(parlays) == 0 {
		b.WriteString("parlays placed: none\n")
	} else {
		fmt.Fprintf(&b, "parlays placed: %s\n", strings.Join(parlays, ", "))
	}
	fmt.Fprintf(&b, "balance: $%s (available $%s)",
		oddsmath.FormatCents(ledger.CurrentBalance),
		oddsmath.FormatCents(ledger.AvailableBalance),
	)
	return b.String()
}

// SettlementTitle is the headline for a settled wager.
func SettlementTitle(w domain.Wager) string {
	return fmt.Sprintf("wager %s: %s", strings.ToUpper(string(w.Status)), w.Type)
}

// SettlementMessage renders stake, payout and selections of a settled wager.
func SettlementMessage(w domain.Wager) string {
	var b strings.Builder
	fmt.Fprintf(&b, "account %s, wager %s\n", w.AccountID, w.ID)
	if w.IsParlay() {
		sels := make([]string, 0, len(w.Legs))
		for _, l := range w.Legs {
			sels = append(sels, fmt.Sprintf("%s (%s)", l.Selection, l.Result))
		}
		fmt.Fprintf(&b, "legs: %s\n", strings.Join(sels, ", "))
	} else {
		fmt.Fprintf(&b, "selection: %s\n", w.Selection)
	}
	var payout int64
	if w.PayoutCents != nil {
		payout = *w.PayoutCents
	}
	fmt.Fprintf(&b, "stake $%s, payout $%s", oddsmath.FormatCents(w.StakeCents), oddsmath.FormatCents(payout))
	return b.String()
}
