package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"paystream/native/stream"
	"paystream/native/token"
)

const (
	codeStreamInvalidParams = -32041
	codeStreamNotFound      = -32042
	codeStreamForbidden     = -32043
	codeStreamConflict      = -32044
	codeStreamTransfer      = -32045
	codeStreamInternal      = -32046
)

type streamCreateParams struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Deposit   string `json:"deposit"`
	Asset     string `json:"asset"`
	StartTime uint64 `json:"startTime"`
	StopTime  uint64 `json:"stopTime"`
	CancelFee string `json:"cancelFee,omitempty"`
}

type streamIDParams struct {
	ID uint64 `json:"id"`
}

type streamBalanceParams struct {
	ID      uint64 `json:"id"`
	Address string `json:"address"`
}

type streamWithdrawParams struct {
	ID     uint64 `json:"id"`
	Amount string `json:"amount"`
	Caller string `json:"caller"`
}

type streamActorParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type streamCreateResult struct {
	ID uint64 `json:"id"`
}

type streamJSON struct {
	ID               uint64 `json:"id"`
	Sender           string `json:"sender"`
	Recipient        string `json:"recipient"`
	Asset            string `json:"asset"`
	Deposit          string `json:"deposit"`
	RatePerSecond    string `json:"ratePerSecond"`
	StartTime        uint64 `json:"startTime"`
	StopTime         uint64 `json:"stopTime"`
	RemainingBalance string `json:"remainingBalance"`
	CancelFee        string `json:"cancelFee"`
}

type deltaResult struct {
	Delta uint64 `json:"delta"`
}

type balanceResult struct {
	Balance string `json:"balance"`
}

func (s *Server) handleStreamCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return outcomeError
	}
	var params streamCreateParams
	if !decodeParams(w, req, &params) {
		return outcomeError
	}
	sender, err := parseAddress(params.Sender)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return outcomeError
	}
	recipient, err := parseAddress(params.Recipient)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return outcomeError
	}
	deposit, err := parsePositiveAmount(params.Deposit)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return outcomeError
	}
	cancelFee := big.NewInt(0)
	if strings.TrimSpace(params.CancelFee) != "" {
		cancelFee, err = parseAmount(params.CancelFee)
		if err != nil {
			writeInvalidParams(w, req.ID, err)
			return outcomeError
		}
	}
	id, err := s.node.StreamCreate(sender, recipient, deposit, params.Asset, params.StartTime, params.StopTime, cancelFee)
	if err != nil {
		writeStreamError(w, req.ID, err)
		return outcomeError
	}
	writeResult(w, req.ID, streamCreateResult{ID: id})
	return outcomeOK
}

func (s *Server) handleStreamWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return outcomeError
	}
	var params streamWithdrawParams
	if !decodeParams(w, req, &params) {
		return outcomeError
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return outcomeError
	}
	amount, err := parsePositiveAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return outcomeError
	}
	if err := s.node.StreamWithdraw(params.ID, amount, caller); err != nil {
		writeStreamError(w, req.ID, err)
		return outcomeError
	}
	writeResult(w, req.ID, "ok")
	return outcomeOK
}

func (s *Server) handleStreamCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return outcomeError
	}
	var params streamActorParams
	if !decodeParams(w, req, &params) {
		return outcomeError
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return outcomeError
	}
	if err := s.node.StreamCancel(params.ID, caller); err != nil {
		writeStreamError(w, req.ID, err)
		return outcomeError
	}
	writeResult(w, req.ID, "ok")
	return outcomeOK
}

func (s *Server) handleStreamGet(w http.ResponseWriter, req *RPCRequest) string {
	var params streamIDParams
	if !decodeParams(w, req, &params) {
		return outcomeError
	}
	record, err := s.node.StreamGet(params.ID)
	if err != nil {
		writeStreamError(w, req.ID, err)
		return outcomeError
	}
	writeResult(w, req.ID, formatStreamJSON(record))
	return outcomeOK
}

func (s *Server) handleStreamDelta(w http.ResponseWriter, req *RPCRequest) string {
	var params streamIDParams
	if !decodeParams(w, req, &params) {
		return outcomeError
	}
	delta, err := s.node.StreamDelta(params.ID)
	if err != nil {
		writeStreamError(w, req.ID, err)
		return outcomeError
	}
	writeResult(w, req.ID, deltaResult{Delta: delta})
	return outcomeOK
}

func (s *Server) handleStreamBalanceOf(w http.ResponseWriter, req *RPCRequest) string {
	var params streamBalanceParams
	if !decodeParams(w, req, &params) {
		return outcomeError
	}
	who, err := parseAddress(params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return outcomeError
	}
	balance, err := s.node.StreamBalanceOf(params.ID, who)
	if err != nil {
		writeStreamError(w, req.ID, err)
		return outcomeError
	}
	writeResult(w, req.ID, balanceResult{Balance: balance.String()})
	return outcomeOK
}

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeStreamInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeStreamInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeStreamInvalidParams, "invalid_params", err.Error())
}

func parseAddress(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", addr)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parsePositiveAmount(value string) (*big.Int, error) {
	amount, err := parseAmount(value)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func formatAddress(addr [20]byte) string {
	return common.BytesToAddress(addr[:]).Hex()
}

func formatStreamJSON(record *stream.Stream) streamJSON {
	return streamJSON{
		ID:               record.ID,
		Sender:           formatAddress(record.Sender),
		Recipient:        formatAddress(record.Recipient),
		Asset:            record.Asset,
		Deposit:          record.Deposit.String(),
		RatePerSecond:    record.RatePerSecond.String(),
		StartTime:        record.StartTime,
		StopTime:         record.StopTime,
		RemainingBalance: record.RemainingBalance.String(),
		CancelFee:        record.CancelFee.String(),
	}
}

func writeStreamError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeStreamInternal
	message := "internal_error"
	switch {
	case errors.Is(err, stream.ErrValidation):
		status = http.StatusBadRequest
		code = codeStreamInvalidParams
		message = "invalid_params"
	case errors.Is(err, stream.ErrNotFound):
		status = http.StatusNotFound
		code = codeStreamNotFound
		message = "not_found"
	case errors.Is(err, stream.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeStreamForbidden
		message = "forbidden"
	case errors.Is(err, stream.ErrInsufficientBalance):
		status = http.StatusConflict
		code = codeStreamConflict
		message = "conflict"
	case errors.Is(err, stream.ErrTransferFailed),
		errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, token.ErrInsufficientAllowance):
		status = http.StatusConflict
		code = codeStreamTransfer
		message = "transfer_failed"
	case errors.Is(err, stream.ErrReentrancy), errors.Is(err, stream.ErrInvariantViolated):
		status = http.StatusInternalServerError
		code = codeStreamInternal
		message = "internal_error"
	}
	writeError(w, status, id, code, message, err.Error())
}
