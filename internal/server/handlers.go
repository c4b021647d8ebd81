package server

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/aristath/propcompliance/internal/domain"
	"github.com/aristath/propcompliance/internal/evaluator"
	"github.com/aristath/propcompliance/internal/rules"
)

// reviewRequest is the body of POST /compliance/review.
type reviewRequest struct {
	Firm             string        `json:"firm"`
	ProgramID        string        `json:"program_id,omitempty"`
	AccountID        string        `json:"account_id"`
	Account          reviewAccount `json:"account"`
	IncludeSoftRules bool          `json:"include_soft_rules,omitempty"`
}

type reviewAccount struct {
	Balance         float64          `json:"balance"`
	Equity          float64          `json:"equity"`
	StartingBalance float64          `json:"starting_balance"`
	DayStartBalance float64          `json:"day_start_balance"`
	DayStartEquity  float64          `json:"day_start_equity"`
	MarginUsed      float64          `json:"margin_used"`
	MarginAvailable float64          `json:"margin_available"`
	Leverage        *float64         `json:"leverage,omitempty"`
	Positions       []reviewPosition `json:"positions"`
}

type reviewPosition struct {
	ID              string     `json:"id"`
	Symbol          string     `json:"symbol"`
	Side            string     `json:"side"`
	VolumeLots      float64    `json:"volume_lots"`
	OpenPrice       float64    `json:"open_price"`
	CurrentPrice    float64    `json:"current_price"`
	StopLossPrice   *float64   `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *float64   `json:"take_profit_price,omitempty"`
	UnrealizedPL    float64    `json:"unrealized_pl"`
	OpenTime        time.Time  `json:"open_time"`
	Commission      float64    `json:"commission"`
	Swap            float64    `json:"swap"`
	ContractSize    *float64   `json:"contract_size,omitempty"`
}

type reviewResponse struct {
	AccountID string                    `json:"account_id"`
	Source    string                    `json:"rule_source"`
	Breaches  []evaluator.RuleBreach    `json:"breaches"`
	SoftRules []string                  `json:"soft_rules,omitempty"`
}

// handleComplianceReview implements POST /compliance/review: stateless,
// re-runs the resolver and evaluator per call, never touches the
// supervisor or any account's anchor.
func (s *Server) handleComplianceReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Firm == "" || req.AccountID == "" {
		s.writeError(w, http.StatusBadRequest, "firm and account_id are required")
		return
	}

	programID := req.ProgramID
	if taxonomy, ok := s.taxonomy[rules.NormalizeFirmName(req.Firm)]; ok && programID != "" {
		if canonical, ok := taxonomy.CanonicalProgramID(programID); ok {
			programID = canonical
		}
	}

	resolved, source, err := s.resolver.Resolve(req.Firm, programID, nil)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	snapshot := toSnapshot(req.AccountID, req.Account)

	breaches := evaluator.Evaluate(evaluator.Input{
		Rules:           resolved,
		Snapshot:        snapshot,
		StartingBalance: req.Account.StartingBalance,
		Leverage:        req.Account.Leverage,
	})

	resp := reviewResponse{
		AccountID: req.AccountID,
		Source:    string(source),
		Breaches:  breaches,
	}

	if req.IncludeSoftRules && s.softRules != nil {
		advisories, err := s.softRules(req.Firm, programID)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to read soft rules, omitting from response")
		} else {
			resp.SoftRules = advisories
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func toSnapshot(accountID string, a reviewAccount) domain.AccountSnapshot {
	marginLevel := math.Inf(1)
	if a.MarginUsed > 0 {
		marginLevel = 100 * a.Equity / a.MarginUsed
	}

	positions := make([]domain.Position, 0, len(a.Positions))
	for _, p := range a.Positions {
		positions = append(positions, domain.Position{
			ID:              p.ID,
			Symbol:          p.Symbol,
			Side:            domain.Side(p.Side),
			VolumeLots:      p.VolumeLots,
			OpenPrice:       p.OpenPrice,
			CurrentPrice:    p.CurrentPrice,
			StopLossPrice:   p.StopLossPrice,
			TakeProfitPrice: p.TakeProfitPrice,
			UnrealizedPL:    p.UnrealizedPL,
			OpenTime:        p.OpenTime,
			Commission:      p.Commission,
			Swap:            p.Swap,
			ContractSize:    p.ContractSize,
		})
	}

	now := time.Now().UTC()
	return domain.AccountSnapshot{
		AccountID:        accountID,
		Balance:          a.Balance,
		Equity:           a.Equity,
		MarginUsed:       a.MarginUsed,
		MarginFree:       a.MarginAvailable,
		MarginLevelPct:   marginLevel,
		DayStartBalance:  a.DayStartBalance,
		DayStartEquity:   a.DayStartEquity,
		Positions:        positions,
		ObservedAtServer: now,
		ObservedAtWall:   now,
	}
}

// handleHealth reports process liveness, resource usage (when a Supervisor
// is wired) and per-account monitor status — the supplemented "system
// status" feature folding gopsutil stats into the health surface.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "propcompliance",
	}

	if s.sup != nil {
		stats := s.sup.SystemStats()
		response["system"] = map[string]interface{}{
			"cpu_percent": stats.CPUPercent,
			"ram_percent": stats.RAMPercent,
		}
		response["accounts"] = s.sup.Status()
	}

	s.writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
