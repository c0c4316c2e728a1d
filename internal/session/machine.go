// Package session drives the step-by-step trade entry dialogue.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjannette/p2p-ledger/internal/arbitrage"
	"github.com/kjannette/p2p-ledger/internal/id"
	"github.com/kjannette/p2p-ledger/internal/ledger"
	"github.com/kjannette/p2p-ledger/internal/models"
)

var ErrNoSession = errors.New("no active session")

type Status int

const (
	StatusPrompt     Status = iota // waiting for the next field
	StatusInvalid                  // input rejected, same field asked again
	StatusSaved                    // record durably appended, session cleared
	StatusSaveFailed               // record kept in the session for retry
)

// Outcome is what one input did to the session.
type Outcome struct {
	Status   Status
	Prompt   string
	Choices  []string
	Step     int // 1-based position of the prompted field
	Steps    int
	Replaced bool // a previous unfinished session was discarded
	Err      error
	Record   models.TradeRecord
}

type Config struct {
	Flow            Flow
	Formula         models.Formula
	DefaultCurrency models.Currency
	Location        *time.Location
	SaveTimeout     time.Duration
}

// SaveFailureFunc is told about every append that did not go through.
type SaveFailureFunc func(rec models.TradeRecord, err error)

type Machine struct {
	cfg       Config
	store     *Store
	ledger    ledger.Store
	logger    *zap.Logger
	now       func() time.Time
	onFailure SaveFailureFunc
}

func NewMachine(cfg Config, store *Store, l ledger.Store, logger *zap.Logger) *Machine {
	if len(cfg.Flow) == 0 {
		cfg.Flow = BasicFlow()
	}
	if cfg.Formula == "" {
		cfg.Formula = models.FormulaVolume
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = models.RUB
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{cfg: cfg, store: store, ledger: l, logger: logger, now: time.Now}
}

func (m *Machine) OnSaveFailure(fn SaveFailureFunc) {
	m.onFailure = fn
}

// Today is the current calendar date in the ledger's timezone.
func (m *Machine) Today() time.Time {
	return models.DateOf(m.now().In(m.cfg.Location))
}

func (m *Machine) Active(owner int64) bool {
	_, ok := m.store.Get(owner)
	return ok
}

// Start opens a fresh session, overwriting any unfinished one.
func (m *Machine) Start(owner int64) Outcome {
	_, replaced := m.store.Get(owner)
	m.store.Put(Session{OwnerID: owner, Draft: m.blankDraft()})
	m.logger.Debug("session started", zap.Int64("owner", owner), zap.Bool("replaced", replaced))

	out := m.prompt(0)
	out.Replaced = replaced
	return out
}

func (m *Machine) Cancel(owner int64) bool {
	return m.store.Delete(owner)
}

// Advance feeds one plain-text message into the owner's session. A session
// holding an unsaved record treats any input as a retry.
func (m *Machine) Advance(ctx context.Context, owner int64, input string) (Outcome, error) {
	sess, ok := m.store.Get(owner)
	if !ok {
		return Outcome{}, ErrNoSession
	}
	if sess.Pending != nil {
		return m.save(ctx, sess), nil
	}

	step := m.cfg.Flow[sess.Step]
	draft := sess.Draft
	if err := step.Apply(&draft, input, m.Today()); err != nil {
		m.store.Put(sess)
		out := m.prompt(sess.Step)
		out.Status = StatusInvalid
		out.Err = err
		return out, nil
	}
	sess.Draft = draft
	sess.Step++

	if sess.Step < len(m.cfg.Flow) {
		m.store.Put(sess)
		return m.prompt(sess.Step), nil
	}

	rec, err := m.Build(owner, sess.Draft)
	if err != nil {
		// Steps validate every operand, so this only trips on a broken flow.
		m.store.Delete(owner)
		return Outcome{}, fmt.Errorf("build record: %w", err)
	}
	sess.Pending = &rec
	return m.save(ctx, sess), nil
}

// Retry re-attempts the append of a session's pending record.
func (m *Machine) Retry(ctx context.Context, owner int64) (Outcome, error) {
	sess, ok := m.store.Get(owner)
	if !ok || sess.Pending == nil {
		return Outcome{}, ErrNoSession
	}
	return m.save(ctx, sess), nil
}

// Submit records a complete draft in one go. On failure the record is parked
// in a session so Retry can finish it.
func (m *Machine) Submit(ctx context.Context, owner int64, d Draft) (Outcome, error) {
	rec, err := m.Build(owner, d)
	if err != nil {
		return Outcome{}, err
	}
	return m.save(ctx, Session{OwnerID: owner, Step: len(m.cfg.Flow), Draft: d, Pending: &rec}), nil
}

// Build turns a draft into a record with a fresh ID. Missing optional fields
// take the machine's defaults.
func (m *Machine) Build(owner int64, d Draft) (models.TradeRecord, error) {
	if d.Date.IsZero() {
		d.Date = m.Today()
	}
	if d.Currency == "" {
		d.Currency = m.cfg.DefaultCurrency
	}
	return NewRecord(id.New(), owner, d, m.cfg.Formula, m.now().UTC())
}

// NewRecord validates a draft and computes its derived fields.
func NewRecord(recID string, owner int64, d Draft, f models.Formula, createdAt time.Time) (models.TradeRecord, error) {
	switch {
	case d.Exchange == "":
		return models.TradeRecord{}, invalid(FieldExchange, "exchange name cannot be empty")
	case !d.BuyRate.IsPositive():
		return models.TradeRecord{}, invalid(FieldBuyRate, "must be greater than zero")
	case !d.SellRate.IsPositive():
		return models.TradeRecord{}, invalid(FieldSellRate, "must be greater than zero")
	case !d.Volume.IsPositive():
		return models.TradeRecord{}, invalid(FieldVolume, "must be greater than zero")
	case !d.Principal.IsPositive():
		return models.TradeRecord{}, invalid(FieldPrincipal, "must be greater than zero")
	case d.Expenses.IsNegative():
		return models.TradeRecord{}, invalid(FieldExpenses, "cannot be negative")
	}

	res, err := arbitrage.Calculate(arbitrage.Input{
		BuyRate:   d.BuyRate,
		SellRate:  d.SellRate,
		Volume:    d.Volume,
		Principal: d.Principal,
		Expenses:  d.Expenses,
	}, f)
	if err != nil {
		return models.TradeRecord{}, err
	}

	return models.TradeRecord{
		ID:         recID,
		OwnerID:    owner,
		OccurredOn: models.DateOf(d.Date),
		Exchange:   d.Exchange,
		BuyRate:    d.BuyRate,
		SellRate:   d.SellRate,
		Volume:     d.Volume,
		Principal:  d.Principal,
		Currency:   d.Currency,
		Expenses:   d.Expenses,
		SpreadPct:  res.SpreadPct,
		Profit:     res.Profit,
		Formula:    res.Formula,
		CreatedAt:  createdAt,
	}, nil
}

// Sweep expires idle sessions.
func (m *Machine) Sweep() int {
	n := m.store.Sweep()
	if n > 0 {
		m.logger.Info("expired idle sessions", zap.Int("count", n))
	}
	return n
}

func (m *Machine) save(ctx context.Context, sess Session) Outcome {
	rec := *sess.Pending

	sctx, cancel := context.WithTimeout(ctx, m.cfg.SaveTimeout)
	defer cancel()

	if err := m.ledger.Append(sctx, rec); err != nil {
		m.store.Put(sess)
		m.logger.Error("trade not saved",
			zap.Int64("owner", rec.OwnerID),
			zap.String("trade_id", rec.ID),
			zap.Error(err),
		)
		if m.onFailure != nil {
			m.onFailure(rec, err)
		}
		return Outcome{Status: StatusSaveFailed, Err: err, Record: rec}
	}

	m.store.Delete(sess.OwnerID)
	m.logger.Info("trade saved",
		zap.Int64("owner", rec.OwnerID),
		zap.String("trade_id", rec.ID),
		zap.String("profit", rec.Profit.String()),
	)
	return Outcome{Status: StatusSaved, Record: rec}
}

func (m *Machine) prompt(step int) Outcome {
	return Outcome{
		Status:  StatusPrompt,
		Prompt:  m.cfg.Flow[step].Prompt,
		Choices: m.cfg.Flow[step].Choices,
		Step:    step + 1,
		Steps:   len(m.cfg.Flow),
	}
}

func (m *Machine) blankDraft() Draft {
	return Draft{Currency: m.cfg.DefaultCurrency}
}
