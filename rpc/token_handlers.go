package rpc

import (
	"net/http"
)

type tokenApproveParams struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

type tokenBalanceParams struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
}

func (s *Server) handleTokenApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return outcomeError
	}
	var params tokenApproveParams
	if !decodeParams(w, req, &params) {
		return outcomeError
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return outcomeError
	}
	// Approvals default to the asset's custody account, the only spender the
	// stream ledger ever uses.
	spender := s.node.TokenCustodyAddress(params.Asset)
	if params.Spender != "" {
		spender, err = parseAddress(params.Spender)
		if err != nil {
			writeInvalidParams(w, req.ID, err)
			return outcomeError
		}
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return outcomeError
	}
	if err := s.node.TokenApprove(params.Asset, owner, spender, amount); err != nil {
		writeStreamError(w, req.ID, err)
		return outcomeError
	}
	writeResult(w, req.ID, "ok")
	return outcomeOK
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, req *RPCRequest) string {
	var params tokenBalanceParams
	if !decodeParams(w, req, &params) {
		return outcomeError
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return outcomeError
	}
	balance, err := s.node.TokenBalanceOf(params.Asset, addr)
	if err != nil {
		writeStreamError(w, req.ID, err)
		return outcomeError
	}
	writeResult(w, req.ID, balanceResult{Balance: balance.String()})
	return outcomeOK
}
