package api

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"ethpool/internal/chain"
	"ethpool/internal/ledger"
)

// maxSignatureTTL bounds how far in the future a withdrawal signature may expire.
const maxSignatureTTL = 10 * time.Minute

var (
	errInvalidSignature   = errors.New("invalid withdrawal signature")
	errFundingUnavailable = errors.New("funding check unavailable")
)

// FundingVerifier confirms that a deposit or reward was paid on chain.
// *chain.FundingVerifier implements it.
type FundingVerifier interface {
	VerifyFunding(ctx context.Context, hash common.Hash, from common.Address, amount *big.Int) error
}

// WithdrawMessage is the text an account signs (EIP-191 personal_sign) to
// authorize withdrawing its balance until expires, a unix timestamp.
func WithdrawMessage(account common.Address, expires int64) string {
	return fmt.Sprintf("ethpool withdraw %s expires %d", account.Hex(), expires)
}

// SignWithdraw signs WithdrawMessage for the account owning key. The result
// is in the 65 byte [R || S || V] form wallets return, with V in {27, 28}.
func SignWithdraw(key *ecdsa.PrivateKey, expires int64) (string, error) {
	account := crypto.PubkeyToAddress(key.PublicKey)
	sig, err := crypto.Sign(accounts.TextHash([]byte(WithdrawMessage(account, expires))), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// authorizeWithdraw checks that signature was made by account over
// WithdrawMessage and has not expired.
func (s *Server) authorizeWithdraw(account common.Address, expires int64, signature string) error {
	if signature == "" {
		return fmt.Errorf("%w: signature is required", errInvalidSignature)
	}
	now := s.now()
	if expires <= now.Unix() {
		return fmt.Errorf("%w: expired at %d", errInvalidSignature, expires)
	}
	if time.Unix(expires, 0).After(now.Add(maxSignatureTTL)) {
		return fmt.Errorf("%w: expiry more than %s ahead", errInvalidSignature, maxSignatureTTL)
	}

	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: malformed signature", errInvalidSignature)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(WithdrawMessage(account, expires))), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidSignature, err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != account {
		return fmt.Errorf("%w: signed by %s", errInvalidSignature, signer.Hex())
	}
	return nil
}

// fundingFor parses and, when a verifier is configured, checks the funding
// transaction of a deposit or reward. An empty hash is left for the ledger to
// accept or refuse.
func (s *Server) fundingFor(ctx context.Context, raw string, from common.Address, amount *big.Int) (common.Hash, error) {
	if raw == "" {
		if s.opts.Verifier != nil {
			return common.Hash{}, ledger.ErrFundingRequired
		}
		return common.Hash{}, nil
	}
	hash, err := ledger.ParseTxHash(raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: tx_hash: %v", errBadRequest, err)
	}
	if s.opts.Verifier == nil {
		return hash, nil
	}

	err = s.opts.Verifier.VerifyFunding(ctx, hash, from, amount)
	switch {
	case err == nil:
		return hash, nil
	case errors.Is(err, chain.ErrFundingNotFound),
		errors.Is(err, chain.ErrFundingMismatch),
		errors.Is(err, chain.ErrFundingUnconfirmed),
		errors.Is(err, context.Canceled):
		return common.Hash{}, err
	default:
		return common.Hash{}, fmt.Errorf("%w: %w", errFundingUnavailable, err)
	}
}
