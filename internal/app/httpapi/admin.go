package httpapi

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linktum-network/matrix-service/internal/app/domain/token"
	"github.com/linktum-network/matrix-service/internal/app/services/admin"
	"github.com/linktum-network/matrix-service/internal/middleware"
)

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

func (s *Server) respondAdminError(w http.ResponseWriter, err error) {
	if errors.Is(err, admin.ErrNotOwner) {
		respondError(w, http.StatusForbidden, "signer is not the contract owner")
		return
	}
	respondError(w, http.StatusBadGateway, err.Error())
}

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	owner, err := s.admin.IsOwner(r.Context())
	if err != nil {
		s.respondAdminError(w, err)
		return
	}
	active, err := s.gateway.ContractActive(r.Context())
	if err != nil {
		s.respondAdminError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"subject":         middleware.Subject(r.Context()),
		"signer_is_owner": owner,
		"contract_active": active,
	})
}

func (s *Server) handleAdminPause(w http.ResponseWriter, r *http.Request) {
	hash, err := s.admin.Pause(r.Context())
	if err != nil {
		s.respondAdminError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"tx_hash": hash})
}

func (s *Server) handleAdminActivate(w http.ResponseWriter, r *http.Request) {
	hash, err := s.admin.Activate(r.Context())
	if err != nil {
		s.respondAdminError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"tx_hash": hash})
}

type setLevelCostRequest struct {
	// Cost is a decimal token amount, e.g. "12.5".
	Cost string `json:"cost"`
}

func (s *Server) handleAdminSetLevelCost(w http.ResponseWriter, r *http.Request) {
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "level must be an integer")
		return
	}
	var req setLevelCostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cost, err := token.Parse(req.Cost, token.DefaultDecimals)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := s.admin.SetLevelCost(r.Context(), level, cost)
	if err != nil {
		if errors.Is(err, admin.ErrNotOwner) {
			s.respondAdminError(w, err)
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]string{"tx_hash": hash})
}

type withdrawRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleAdminWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := token.Parse(req.Amount, token.DefaultDecimals)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := s.admin.Withdraw(r.Context(), amount)
	if err != nil {
		if errors.Is(err, admin.ErrNotOwner) {
			s.respondAdminError(w, err)
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]string{"tx_hash": hash})
}
