package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"ethpool/internal/chain"
	"ethpool/internal/ledger"
)

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// First match wins.
var errorMappings = []errorMapping{
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{errBadRequest, http.StatusBadRequest, "bad_request"},
	{errInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{ledger.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{ledger.ErrFundingRequired, http.StatusBadRequest, "funding_required"},
	{ledger.ErrFundingReused, http.StatusConflict, "funding_reused"},
	{chain.ErrFundingNotFound, http.StatusUnprocessableEntity, "funding_not_found"},
	{chain.ErrFundingMismatch, http.StatusUnprocessableEntity, "funding_mismatch"},
	{chain.ErrFundingUnconfirmed, http.StatusConflict, "funding_unconfirmed"},
	{errFundingUnavailable, http.StatusBadGateway, "funding_unavailable"},
	{ledger.ErrNotFound, http.StatusNotFound, "not_found"},
	{ledger.ErrIndexOutOfRange, http.StatusNotFound, "index_out_of_range"},
	{ledger.ErrNoActiveMembers, http.StatusConflict, "no_active_members"},
	{ledger.ErrReentrantCall, http.StatusConflict, "reentrant_call"},
	{ledger.ErrTransferFailed, http.StatusBadGateway, "transfer_failed"},
}

func lookupError(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func statusFor(err error) int {
	status, _ := lookupError(err)
	return status
}

// errorCode labels an operation outcome for metrics.
func errorCode(err error) string {
	if err == nil {
		return "ok"
	}
	_, code := lookupError(err)
	return code
}

func writeError(w http.ResponseWriter, err error) {
	status, code := lookupError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
