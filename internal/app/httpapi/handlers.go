package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/linktum-network/matrix-service/internal/app/domain/matrix"
	"github.com/linktum-network/matrix-service/internal/app/domain/token"
	"github.com/linktum-network/matrix-service/internal/app/domain/txflow"
	"github.com/linktum-network/matrix-service/internal/app/storage"
)

// runTimeout bounds a background transaction run, generously: confirmation
// can take a while on a congested chain.
const runTimeout = 10 * time.Minute

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respond(w, status, map[string]string{"error": msg})
}

// respondFlowError maps classified failures onto client errors and keeps
// the raw cause out of the response body.
func respondFlowError(w http.ResponseWriter, err error) {
	var fe *txflow.FlowError
	if errors.As(err, &fe) {
		status := http.StatusBadRequest
		switch fe.Reason {
		case txflow.ReasonNetworkError:
			status = http.StatusBadGateway
		case txflow.ReasonDuplicateInFlight:
			status = http.StatusConflict
		}
		respond(w, status, map[string]string{
			"error":  fe.Reason.Message(),
			"reason": string(fe.Reason),
		})
		return
	}
	respondError(w, http.StatusInternalServerError, "internal error")
}

func pathAddr(r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "addr")
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func pathProgramLevel(r *http.Request) (matrix.Program, int, error) {
	rawProgram, err := strconv.ParseUint(chi.URLParam(r, "program"), 10, 8)
	if err != nil {
		return 0, 0, errors.New("program must be 1 or 2")
	}
	program, err := matrix.ParseProgram(uint8(rawProgram))
	if err != nil {
		return 0, 0, err
	}
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil {
		return 0, 0, errors.New("level must be an integer")
	}
	if err := matrix.ValidateLevel(level); err != nil {
		return 0, 0, err
	}
	return program, level, nil
}

type dashboardResponse struct {
	TotalUsers     uint64 `json:"total_users"`
	TotalTurnover  string `json:"total_turnover"`
	ContractActive bool   `json:"contract_active"`
	TokenSymbol    string `json:"token_symbol"`
	ObservedAt     string `json:"observed_at"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.stats != nil {
		if snap, ok := s.stats.Current(); ok {
			respond(w, http.StatusOK, dashboardResponse{
				TotalUsers:     snap.TotalUsers,
				TotalTurnover:  token.Format(mustBig(snap.TotalTurnover), token.DefaultDecimals),
				ContractActive: snap.ContractActive,
				TokenSymbol:    snap.TokenSymbol,
				ObservedAt:     snap.ObservedAt.Format(time.RFC3339),
			})
			return
		}
	}

	// No snapshot yet; read live.
	users, err := s.gateway.TotalUsers(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	turnover, err := s.gateway.TotalTurnover(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	active, err := s.gateway.ContractActive(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	symbol, err := s.gateway.TokenSymbol(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	respond(w, http.StatusOK, dashboardResponse{
		TotalUsers:     users,
		TotalTurnover:  token.Format(turnover, token.DefaultDecimals),
		ContractActive: active,
		TokenSymbol:    symbol,
		ObservedAt:     time.Now().UTC().Format(time.RFC3339),
	})
}

type tierView struct {
	Name          string `json:"name"`
	Positions     int    `json:"positions"`
	SelfPercent   int    `json:"self_percent"`
	UplinePercent int    `json:"upline_percent"`
}

type programView struct {
	Program        uint8      `json:"program"`
	Name           string     `json:"name"`
	TotalPositions int        `json:"total_positions"`
	Tiers          []tierView `json:"tiers"`
}

type levelsResponse struct {
	Costs    []string      `json:"costs"`
	Programs []programView `json:"programs"`
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	costs, err := s.gateway.LevelCosts(r.Context(), matrix.ProgramX4)
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}

	out := levelsResponse{Costs: make([]string, len(costs))}
	for i, c := range costs {
		out.Costs[i] = token.Format(c, token.DefaultDecimals)
	}
	for _, p := range []matrix.Program{matrix.ProgramX4, matrix.ProgramXXX} {
		layout, _ := matrix.TierLayout(p)
		view := programView{
			Program:        uint8(p),
			Name:           p.String(),
			TotalPositions: matrix.TotalPositions(p),
		}
		for _, t := range layout {
			view.Tiers = append(view.Tiers, tierView{
				Name:          t.Name,
				Positions:     t.Positions,
				SelfPercent:   t.SelfPercent,
				UplinePercent: t.UplinePercent,
			})
		}
		out.Programs = append(out.Programs, view)
	}
	respond(w, http.StatusOK, out)
}

type userResponse struct {
	Address       string `json:"address"`
	Registered    bool   `json:"registered"`
	UserID        uint64 `json:"user_id,omitempty"`
	Referrer      string `json:"referrer,omitempty"`
	RegisteredAt  string `json:"registered_at,omitempty"`
	PartnersCount uint64 `json:"partners_count"`

	Balance string `json:"balance"`

	X4Levels    []int  `json:"x4_levels"`
	XXXLevels   []int  `json:"xxx_levels"`
	X4Earnings  string `json:"x4_earnings"`
	XXXEarnings string `json:"xxx_earnings"`
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddr(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid address")
		return
	}
	ctx := r.Context()

	registered, err := s.gateway.IsRegistered(ctx, addr)
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	balance, err := s.gateway.TokenBalance(ctx, addr)
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}

	out := userResponse{
		Address:    addr.Hex(),
		Registered: registered,
		Balance:    token.Format(balance, token.DefaultDecimals),
		X4Levels:   []int{},
		XXXLevels:  []int{},
	}
	if !registered {
		out.X4Earnings = "0"
		out.XXXEarnings = "0"
		respond(w, http.StatusOK, out)
		return
	}

	info, err := s.gateway.UserInfo(ctx, addr)
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	out.UserID = info.ID
	out.Referrer = info.Referrer.Hex()
	out.PartnersCount = info.PartnersCount
	if !info.RegistrationTime.IsZero() {
		out.RegisteredAt = info.RegistrationTime.UTC().Format(time.RFC3339)
	}

	for _, p := range []matrix.Program{matrix.ProgramX4, matrix.ProgramXXX} {
		set, err := s.gateway.ActiveLevels(ctx, addr, p)
		if err != nil {
			respondError(w, http.StatusBadGateway, "ledger unavailable")
			return
		}
		var active []int
		for level := 1; level <= matrix.MaxLevel; level++ {
			if set.Active(level) {
				active = append(active, level)
			}
		}
		earned, err := s.gateway.ProgramEarnings(ctx, addr, p)
		if err != nil {
			respondError(w, http.StatusBadGateway, "ledger unavailable")
			return
		}
		if p == matrix.ProgramX4 {
			if active != nil {
				out.X4Levels = active
			}
			out.X4Earnings = token.Format(earned, token.DefaultDecimals)
		} else {
			if active != nil {
				out.XXXLevels = active
			}
			out.XXXEarnings = token.Format(earned, token.DefaultDecimals)
		}
	}
	respond(w, http.StatusOK, out)
}

type matrixResponse struct {
	Program         uint8      `json:"program"`
	Level           int        `json:"level"`
	Active          bool       `json:"active"`
	Blocked         bool       `json:"blocked"`
	ReinvestCount   uint64     `json:"reinvest_count"`
	CurrentReferrer string     `json:"current_referrer"`
	FilledPositions int        `json:"filled_positions"`
	TotalPositions  int        `json:"total_positions"`
	Complete        bool       `json:"complete"`
	Tiers           [][]string `json:"tiers"`
}

func (s *Server) handleMatrix(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddr(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid address")
		return
	}
	program, level, err := pathProgramLevel(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()

	active, err := s.gateway.IsLevelActive(ctx, addr, program, level)
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	info, err := s.gateway.MatrixInfo(ctx, addr, program, level)
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	referrals, err := s.gateway.MatrixReferrals(ctx, addr, program, level)
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}

	state := matrix.State{
		Program:       program,
		Level:         level,
		Tiers:         referrals,
		ReinvestCount: info.ReinvestCount,
		Blocked:       info.Blocked,
	}

	out := matrixResponse{
		Program:         uint8(program),
		Level:           level,
		Active:          active,
		Blocked:         info.Blocked,
		ReinvestCount:   info.ReinvestCount,
		CurrentReferrer: info.CurrentReferrer.Hex(),
		FilledPositions: state.FilledPositions(),
		TotalPositions:  matrix.TotalPositions(program),
		Complete:        state.IsComplete(),
	}
	for _, tier := range referrals {
		line := make([]string, 0, len(tier))
		for _, position := range tier {
			if position == (common.Address{}) {
				continue
			}
			line = append(line, position.Hex())
		}
		out.Tiers = append(out.Tiers, line)
	}
	respond(w, http.StatusOK, out)
}

type teamMemberView struct {
	Address     string `json:"address"`
	UserID      uint64 `json:"user_id"`
	JoinedAt    string `json:"joined_at"`
	X4Levels    int    `json:"x4_levels"`
	XXXLevels   int    `json:"xxx_levels"`
	Active      bool   `json:"active"`
	TotalEarned string `json:"total_earned"`
}

type teamResponse struct {
	Members []teamMemberView `json:"members"`
	Stats   struct {
		DirectReferrals      int    `json:"direct_referrals"`
		TotalNetwork         int    `json:"total_network"`
		ActiveMembers        int    `json:"active_members"`
		ThisMonthReferrals   int    `json:"this_month_referrals"`
		TotalTeamEarnings    string `json:"total_team_earnings"`
		AvgEarningsPerMember string `json:"avg_earnings_per_member"`
	} `json:"stats"`
	FailedLookups int    `json:"failed_lookups"`
	GeneratedAt   string `json:"generated_at"`
}

func (s *Server) handleTeam(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddr(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid address")
		return
	}

	report, err := s.team.Aggregate(r.Context(), addr)
	if err != nil {
		respondError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}

	out := teamResponse{
		Members:       make([]teamMemberView, 0, len(report.Members)),
		FailedLookups: report.FailedLookups,
		GeneratedAt:   report.GeneratedAt.Format(time.RFC3339),
	}
	for _, m := range report.Members {
		out.Members = append(out.Members, teamMemberView{
			Address:     m.Address.Hex(),
			UserID:      m.UserID,
			JoinedAt:    m.JoinedAt.UTC().Format(time.RFC3339),
			X4Levels:    m.X4Levels,
			XXXLevels:   m.XXXLevels,
			Active:      m.Active(),
			TotalEarned: token.Format(m.TotalEarned, token.DefaultDecimals),
		})
	}
	out.Stats.DirectReferrals = report.Stats.DirectReferrals
	out.Stats.TotalNetwork = report.Stats.TotalNetwork
	out.Stats.ActiveMembers = report.Stats.ActiveMembers
	out.Stats.ThisMonthReferrals = report.Stats.ThisMonthReferrals
	out.Stats.TotalTeamEarnings = token.Format(report.Stats.TotalTeamEarnings, token.DefaultDecimals)
	out.Stats.AvgEarningsPerMember = token.Format(report.Stats.AvgEarningsPerMember, token.DefaultDecimals)
	respond(w, http.StatusOK, out)
}

type createTransactionRequest struct {
	Kind     string `json:"kind"`
	Program  uint8  `json:"program,omitempty"`
	Level    int    `json:"level,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

type transactionView struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Account       string `json:"account"`
	Program       uint8  `json:"program,omitempty"`
	Level         int    `json:"level,omitempty"`
	Referrer      string `json:"referrer,omitempty"`
	Cost          string `json:"cost"`
	State         string `json:"state"`
	ApproveTxHash string `json:"approve_tx_hash,omitempty"`
	ExecuteTxHash string `json:"execute_tx_hash,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Message       string `json:"message,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func viewTransaction(tx txflow.Transaction) transactionView {
	v := transactionView{
		ID:            tx.ID,
		Kind:          string(tx.Kind),
		Account:       tx.Account.Hex(),
		Program:       tx.Program,
		Level:         tx.Level,
		Cost:          token.Format(tx.Cost, token.DefaultDecimals),
		State:         string(tx.State),
		ApproveTxHash: tx.ApproveTxHash,
		ExecuteTxHash: tx.ExecuteTxHash,
		Reason:        string(tx.Reason),
		CreatedAt:     tx.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     tx.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if tx.Referrer != (common.Address{}) {
		v.Referrer = tx.Referrer.Hex()
	}
	if tx.Reason != txflow.ReasonNone {
		v.Message = tx.Reason.Message()
	}
	return v
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		tx  txflow.Transaction
		err error
	)
	switch txflow.Kind(req.Kind) {
	case txflow.KindRegistration:
		if !common.IsHexAddress(req.Referrer) {
			respondError(w, http.StatusBadRequest, "invalid referrer address")
			return
		}
		tx, err = s.orchestrator.DraftRegistration(r.Context(), common.HexToAddress(req.Referrer))
	case txflow.KindLevelPurchase:
		tx, err = s.orchestrator.DraftLevelPurchase(r.Context(), matrix.Program(req.Program), req.Level)
	default:
		respondError(w, http.StatusBadRequest, "kind must be registration or level_purchase")
		return
	}
	if err != nil {
		respondFlowError(w, err)
		return
	}

	// The lifecycle runs detached; the record is polled by id.
	go func(id string) {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := s.orchestrator.Run(ctx, id); err != nil {
			s.log.WithField("tx_id", id).WithError(err).Warn("transaction run ended with error")
		}
	}(tx.ID)

	respond(w, http.StatusAccepted, viewTransaction(tx))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.orchestrator.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respond(w, http.StatusOK, viewTransaction(tx))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	rawAccount := r.URL.Query().Get("account")
	if !common.IsHexAddress(rawAccount) {
		respondError(w, http.StatusBadRequest, "account query parameter required")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	txs, err := s.orchestrator.List(r.Context(), common.HexToAddress(rawAccount), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, viewTransaction(tx))
	}
	respond(w, http.StatusOK, map[string]interface{}{"transactions": views})
}

func (s *Server) handleCancelTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.orchestrator.Cancel(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respond(w, http.StatusOK, viewTransaction(tx))
}
