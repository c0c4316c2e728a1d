package api

import (
	"context"
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Ledger string `json:"ledger"`
}

// pinger is implemented by ledgers backed by a database.
type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ledgerStatus := "in-memory"
	if p, ok := s.ledger.(pinger); ok {
		ledgerStatus = "connected"
		if err := p.Ping(r.Context()); err != nil {
			ledgerStatus = "disconnected"
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Ledger: ledgerStatus},
	})
}
