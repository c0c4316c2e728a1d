package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kjannette/p2p-ledger/internal/id"
	"github.com/kjannette/p2p-ledger/internal/ledger"
	"github.com/kjannette/p2p-ledger/internal/models"
	"github.com/kjannette/p2p-ledger/internal/session"
)

type createTradeRequest struct {
	Date      string          `json:"date"`
	Exchange  string          `json:"exchange"`
	BuyRate   decimal.Decimal `json:"buyRate"`
	SellRate  decimal.Decimal `json:"sellRate"`
	Volume    decimal.Decimal `json:"volume"`
	Principal decimal.Decimal `json:"principal"`
	Currency  string          `json:"currency"`
	Expenses  decimal.Decimal `json:"expenses"`
}

type summaryJSON struct {
	Period                models.Period              `json:"period"`
	Count                 int                        `json:"count"`
	Losses                int                        `json:"losses"`
	Profit                map[models.Currency]string `json:"profit"`
	AvgSpreadPct          string                     `json:"avgSpreadPct"`
	Currency              models.Currency            `json:"currency,omitempty"`
	Total                 *string                    `json:"total,omitempty"`
	ConversionUnavailable bool                       `json:"conversionUnavailable"`
}

func parsePeriod(r *http.Request) (models.Period, error) {
	return models.ParsePeriod(r.URL.Query().Get("period"))
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	owner, err := parseOwner(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	period, err := parsePeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trades, err := s.engine.History(r.Context(), owner, period, parseLimit(r, 100))
	if err != nil {
		s.logger.Error("fetch trades", zap.Int64("owner", owner), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch trades")
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleTradesByDay(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if !validateDate(date) {
		writeError(w, http.StatusBadRequest, "invalid date format, expected YYYY-MM-DD")
		return
	}
	owner, err := parseOwner(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	all, err := s.engine.History(r.Context(), owner, models.PeriodAll, 0)
	if err != nil {
		s.logger.Error("fetch trades", zap.Int64("owner", owner), zap.String("date", date), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch trades")
		return
	}

	out := make([]models.TradeRecord, 0, len(all))
	for _, t := range all {
		if t.Day() == date {
			out = append(out, t)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	owner, err := parseOwner(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req createTradeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	now := s.now()
	draft := session.Draft{
		Exchange:  strings.TrimSpace(req.Exchange),
		BuyRate:   req.BuyRate,
		SellRate:  req.SellRate,
		Volume:    req.Volume,
		Principal: req.Principal,
		Currency:  s.opts.DefaultCurrency,
		Expenses:  req.Expenses,
	}
	if draft.Date, err = session.ParseDay(req.Date, now.In(s.opts.Location)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Currency != "" {
		if draft.Currency, err = models.ParseCurrency(req.Currency); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	rec, err := session.NewRecord(id.New(), owner, draft, s.opts.Formula, now.UTC())
	if err != nil {
		var verr *session.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.LedgerTimeout)
	defer cancel()
	if err := s.ledger.Append(ctx, rec); err != nil {
		s.logger.Error("append trade", zap.Int64("owner", owner), zap.String("trade_id", rec.ID), zap.Error(err))
		switch {
		case errors.Is(err, ledger.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusServiceUnavailable, "trade not saved: ledger unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "trade not saved")
		}
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleProfit(w http.ResponseWriter, r *http.Request) {
	owner, err := parseOwner(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	period, err := parsePeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var target models.Currency
	if c := r.URL.Query().Get("currency"); c != "" {
		if target, err = models.ParseCurrency(c); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	rep, err := s.engine.Summarize(r.Context(), owner, period, target)
	if err != nil {
		s.logger.Error("summarize", zap.Int64("owner", owner), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute profit")
		return
	}

	rounded := rep.Rounded()
	out := summaryJSON{
		Period:                rep.Period,
		Count:                 rep.Count,
		Losses:                rep.Losses,
		Profit:                make(map[models.Currency]string, len(rounded.Profit)),
		AvgSpreadPct:          rounded.AvgSpread.StringFixed(2),
		Currency:              target,
		ConversionUnavailable: rep.ConversionUnavailable,
	}
	for c, v := range rounded.Profit {
		out.Profit[c] = v.StringFixed(2)
	}
	if rep.Converted {
		total := rep.Total.StringFixed(2)
		out.Total = &total
	}
	writeJSON(w, http.StatusOK, out)
}
