package api

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ethpool/internal/ledger"
	"ethpool/internal/metrics"
	"ethpool/internal/model"
)

const maxBodyBytes = 1 << 20

type depositRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
	TxHash  string `json:"tx_hash,omitempty"`
}

type rewardRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
	TxHash string `json:"tx_hash,omitempty"`
}

type withdrawRequest struct {
	Account   string `json:"account"`
	Expires   int64  `json:"expires,omitempty"`
	Signature string `json:"signature,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"seq":    s.pool.Stats(r.Context()).Seq,
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	tx, err := s.fundingFor(r.Context(), req.TxHash, account, amount)
	var member ledger.Member
	if err == nil {
		member, err = s.pool.DepositTx(r.Context(), account, amount, tx)
	}
	metrics.RecordOperation("deposit", errorCode(err), time.Since(start))
	if err != nil {
		s.logFailure("deposit", err, zap.String("account", account.Hex()))
		writeError(w, err)
		return
	}
	s.afterMutation(r.Context())

	writeJSON(w, http.StatusOK, memberView(member))
}

func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	tx, err := s.fundingFor(r.Context(), req.TxHash, caller, amount)
	var dist ledger.Distribution
	if err == nil {
		dist, err = s.pool.InjectRewardTx(r.Context(), caller, amount, tx)
	}
	metrics.RecordOperation("reward", errorCode(err), time.Since(start))
	if err != nil {
		s.logFailure("reward", err, zap.String("caller", caller.Hex()))
		writeError(w, err)
		return
	}
	s.afterMutation(r.Context())

	writeJSON(w, http.StatusOK, model.Distribution{
		Seq:         dist.Seq,
		Amount:      dist.Amount.String(),
		Distributed: dist.Distributed.String(),
		Dust:        dist.Dust.String(),
		Members:     dist.Members,
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.opts.SignedWithdrawals {
		if err := s.authorizeWithdraw(account, req.Expires, req.Signature); err != nil {
			s.logFailure("withdraw", err, zap.String("account", account.Hex()))
			writeError(w, err)
			return
		}
	}

	start := time.Now()
	payout, err := s.pool.Withdraw(r.Context(), account)
	metrics.RecordOperation("withdraw", errorCode(err), time.Since(start))
	if err != nil {
		s.logFailure("withdraw", err, zap.String("account", account.Hex()))
		// a reverted transfer still advanced the journal
		s.afterMutation(r.Context())
		writeError(w, err)
		return
	}
	s.afterMutation(r.Context())

	writeJSON(w, http.StatusOK, model.Payout{
		Seq:      payout.Seq,
		Account:  payout.Account.Hex(),
		Amount:   payout.Amount.String(),
		Position: payout.Position,
	})
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		writeError(w, err)
		return
	}
	member, err := s.pool.Member(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memberView(member))
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["position"]
	position, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, fmt.Errorf("%w: invalid position %q", errBadRequest, raw))
		return
	}
	member, err := s.pool.MemberAt(r.Context(), position)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memberView(member))
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members := s.pool.Members(r.Context())
	out := make([]model.Member, 0, len(members))
	for _, m := range members {
		out = append(out, memberView(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	stats := s.pool.Stats(r.Context())
	out := model.PoolStats{
		Members:    stats.Members,
		TotalValue: stats.TotalValue.String(),
		Held:       stats.Held.String(),
		Dust:       stats.Dust.String(),
		DustPolicy: string(stats.DustPolicy),
		Injections: stats.Injections,
		Seq:        stats.Seq,
	}
	if stats.Operator != (common.Address{}) {
		out.Operator = stats.Operator.Hex()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) logFailure(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("op", op), zap.Error(err))
	if statusFor(err) >= http.StatusInternalServerError {
		s.logger.Error("ledger operation failed", fields...)
		return
	}
	s.logger.Debug("ledger operation rejected", fields...)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func parseAddress(field, value string) (common.Address, error) {
	addr, err := ledger.ParseAddress(value)
	if err != nil {
		return addr, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return addr, nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, err := ledger.ParseAmount(value)
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %w", errBadRequest, err)
	}
	return amount, nil
}

func memberView(m ledger.Member) model.Member {
	return model.Member{
		Address:  m.Address.Hex(),
		Balance:  m.Balance.String(),
		Position: m.Position,
	}
}
