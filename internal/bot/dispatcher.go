package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjannette/p2p-ledger/internal/ledger"
	"github.com/kjannette/p2p-ledger/internal/models"
	"github.com/kjannette/p2p-ledger/internal/session"
	"github.com/kjannette/p2p-ledger/internal/stats"
)

// Menu button labels. Pressing one sends its label as plain text.
const (
	ButtonNewTrade = "➕ New trade"
	ButtonToday    = "📅 Today"
	ButtonStats    = "📊 Stats"
	ButtonHistory  = "📜 History"
	ButtonCancel   = "✖ Cancel"
)

var MainMenu = []string{ButtonNewTrade, ButtonToday, ButtonStats, ButtonHistory}

var buttonCommands = map[string]string{
	ButtonNewTrade: "new",
	ButtonToday:    "day",
	ButtonStats:    "stats",
	ButtonHistory:  "history",
	ButtonCancel:   "cancel",
}

type Options struct {
	BotName string
	// ReportCurrency, when set, restates totals and new-trade profit in it.
	ReportCurrency models.Currency
	HistoryLimit   int
	UserTimeout    time.Duration
}

// Dispatcher routes events to the session machine or to a top-level command.
type Dispatcher struct {
	opts    Options
	machine *session.Machine
	engine  *stats.Engine
	users   ledger.UserRegistry
	logger  *zap.Logger
}

// NewDispatcher wires the handlers. users may be nil when the ledger keeps no
// users table.
func NewDispatcher(opts Options, m *session.Machine, e *stats.Engine, users ledger.UserRegistry, logger *zap.Logger) *Dispatcher {
	if opts.BotName == "" {
		opts.BotName = "P2P Ledger"
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.UserTimeout <= 0 {
		opts.UserTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{opts: opts, machine: m, engine: e, users: users, logger: logger}
}

// Handle processes one event. Commands are looked at before an active
// session gets the text.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) Reply {
	if !ev.IsCommand {
		if cmd, ok := buttonCommands[strings.TrimSpace(ev.Text)]; ok {
			ev.IsCommand, ev.Command, ev.Args = true, cmd, nil
		}
	}
	if ev.IsCommand {
		return d.command(ctx, ev)
	}

	if d.machine.Active(ev.OwnerID) {
		out, err := d.machine.Advance(ctx, ev.OwnerID, ev.Text)
		if err != nil {
			return d.internalError(ev, err)
		}
		return d.outcome(ctx, out)
	}

	return Reply{Text: "Send /new to record a trade or /help for the command list.", Actions: MainMenu}
}

func (d *Dispatcher) command(ctx context.Context, ev Event) Reply {
	switch ev.Command {
	case "start":
		return d.start(ctx, ev)
	case "new", "trade":
		return d.outcome(ctx, d.machine.Start(ev.OwnerID))
	case "add":
		if len(ev.Args) == 0 {
			return d.outcome(ctx, d.machine.Start(ev.OwnerID))
		}
		return d.quickAdd(ctx, ev)
	case "cancel":
		if d.machine.Cancel(ev.OwnerID) {
			return Reply{Text: "Cancelled. Nothing was recorded.", Actions: MainMenu}
		}
		return Reply{Text: "Nothing to cancel.", Actions: MainMenu}
	case "retry":
		out, err := d.machine.Retry(ctx, ev.OwnerID)
		if errors.Is(err, session.ErrNoSession) {
			return Reply{Text: "There is no unsaved trade to retry.", Actions: MainMenu}
		}
		if err != nil {
			return d.internalError(ev, err)
		}
		return d.outcome(ctx, out)
	case "history":
		return d.history(ctx, ev)
	case "profit":
		period, err := models.ParsePeriod(strings.Join(ev.Args, " "))
		if err != nil {
			return Reply{Text: "Usage: /profit [today|all]", Actions: MainMenu}
		}
		return d.profit(ctx, ev, period)
	case "stats":
		return d.profit(ctx, ev, models.PeriodAll)
	case "day":
		return d.profit(ctx, ev, models.PeriodToday)
	case "help":
		return Reply{Text: helpText, Actions: MainMenu}
	default:
		return Reply{Text: fmt.Sprintf("Unknown command /%s.\n\n%s", ev.Command, helpText), Actions: MainMenu}
	}
}

func (d *Dispatcher) start(ctx context.Context, ev Event) Reply {
	if d.users != nil {
		uctx, cancel := context.WithTimeout(ctx, d.opts.UserTimeout)
		err := d.users.EnsureUser(uctx, ev.OwnerID, ev.Username)
		cancel()
		if err != nil {
			// Registration is bookkeeping only; the bot stays usable.
			d.logger.Warn("register user failed", zap.Int64("owner", ev.OwnerID), zap.Error(err))
		}
	}
	return Reply{
		Text:    fmt.Sprintf("Welcome to %s. I keep a ledger of your P2P arbitrage trades.\n\n%s", d.opts.BotName, helpText),
		Actions: MainMenu,
	}
}

const quickAddUsage = "Usage: /add <exchange> <buy> <sell> <volume> <principal> [expenses]"

func (d *Dispatcher) quickAdd(ctx context.Context, ev Event) Reply {
	args := ev.Args
	if len(args) != 5 && len(args) != 6 {
		return Reply{Text: quickAddUsage, Actions: MainMenu}
	}

	var draft session.Draft
	var err error
	draft.Exchange = args[0]
	if draft.BuyRate, err = session.ParseAmount(args[1]); err != nil {
		return quickAddError("buy rate", err)
	}
	if draft.SellRate, err = session.ParseAmount(args[2]); err != nil {
		return quickAddError("sell rate", err)
	}
	if draft.Volume, err = session.ParseAmount(args[3]); err != nil {
		return quickAddError("volume", err)
	}
	if draft.Principal, err = session.ParseAmount(args[4]); err != nil {
		return quickAddError("principal", err)
	}
	if len(args) == 6 {
		if draft.Expenses, err = session.ParseExpenses(args[5]); err != nil {
			return quickAddError("expenses", err)
		}
	}

	out, err := d.machine.Submit(ctx, ev.OwnerID, draft)
	if err != nil {
		var verr *session.ValidationError
		if errors.As(err, &verr) {
			return Reply{Text: fmt.Sprintf("Invalid %s: %s\n%s", verr.Field, verr.Msg, quickAddUsage), Actions: MainMenu}
		}
		return d.internalError(ev, err)
	}
	return d.outcome(ctx, out)
}

func quickAddError(what string, err error) Reply {
	return Reply{Text: fmt.Sprintf("Invalid %s: %v\n%s", what, err, quickAddUsage), Actions: MainMenu}
}

func (d *Dispatcher) history(ctx context.Context, ev Event) Reply {
	period, err := models.ParsePeriod(strings.Join(ev.Args, " "))
	if err != nil {
		return Reply{Text: "Usage: /history [today|all]", Actions: MainMenu}
	}
	recs, err := d.engine.History(ctx, ev.OwnerID, period, d.opts.HistoryLimit)
	if err != nil {
		return d.storageError(ev, err)
	}
	return Reply{Text: formatHistory(recs, period), Actions: MainMenu}
}

func (d *Dispatcher) profit(ctx context.Context, ev Event, period models.Period) Reply {
	rep, err := d.engine.Summarize(ctx, ev.OwnerID, period, d.opts.ReportCurrency)
	if err != nil {
		return d.storageError(ev, err)
	}
	return Reply{Text: formatReport(rep), Actions: MainMenu}
}

func (d *Dispatcher) outcome(ctx context.Context, out session.Outcome) Reply {
	switch out.Status {
	case session.StatusPrompt:
		text := fmt.Sprintf("Step %d/%d. %s", out.Step, out.Steps, out.Prompt)
		if out.Replaced {
			text = "Previous unfinished entry discarded.\n" + text
		}
		return Reply{Text: text, Actions: promptActions(out)}
	case session.StatusInvalid:
		msg := "Invalid input"
		var verr *session.ValidationError
		if errors.As(out.Err, &verr) {
			msg = verr.Msg
		}
		return Reply{Text: fmt.Sprintf("⚠️ %s\n%s", msg, out.Prompt), Actions: promptActions(out)}
	case session.StatusSaved:
		return Reply{Text: d.formatSaved(ctx, out.Record), Actions: MainMenu}
	case session.StatusSaveFailed:
		return Reply{
			Text: fmt.Sprintf("❌ Trade not saved: storage unavailable.\nYour entry is kept. Send any message or /retry to try again, /cancel to drop it.\n\n%s",
				formatTrade(out.Record)),
			Actions: []string{"/retry", ButtonCancel},
		}
	}
	return Reply{Text: helpText, Actions: MainMenu}
}

func promptActions(out session.Outcome) []string {
	actions := append([]string(nil), out.Choices...)
	return append(actions, ButtonCancel)
}

func (d *Dispatcher) storageError(ev Event, err error) Reply {
	d.logger.Error("ledger read failed", zap.Int64("owner", ev.OwnerID), zap.Error(err))
	return Reply{Text: "❌ The ledger is unavailable right now. Please try again later.", Actions: MainMenu}
}

func (d *Dispatcher) internalError(ev Event, err error) Reply {
	d.logger.Error("handle event failed",
		zap.Int64("owner", ev.OwnerID),
		zap.String("command", ev.Command),
		zap.Error(err),
	)
	return Reply{Text: "Something went wrong. Please start again with /new.", Actions: MainMenu}
}

const helpText = `Commands:
/new - record a trade step by step
/add <exchange> <buy> <sell> <volume> <principal> [expenses] - record in one line
/cancel - drop the trade being entered
/retry - save an entry that failed to save
/history [today|all] - recent trades
/profit [today|all] - profit summary
/day - today's profit
/stats - all-time summary
/help - this message`
