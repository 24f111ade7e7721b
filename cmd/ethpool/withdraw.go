package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"ethpool/internal/api"
	"ethpool/internal/chain"
)

type signedWithdrawal struct {
	Account   string `json:"account"`
	Expires   int64  `json:"expires"`
	Signature string `json:"signature"`
}

// runWithdrawRequest prints a signed POST /v1/withdrawals body for the account
// owning --key. The key never leaves this process.
func runWithdrawRequest(cmd *cobra.Command, _ []string) error {
	keyHex, _ := cmd.Flags().GetString("key")
	if keyHex == "" {
		keyHex = os.Getenv("ETHPOOL_ACCOUNT_KEY")
	}
	ttl, _ := cmd.Flags().GetDuration("ttl")

	body, err := newWithdrawRequest(keyHex, ttl, time.Now())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	return enc.Encode(body)
}

func newWithdrawRequest(keyHex string, ttl time.Duration, now time.Time) (signedWithdrawal, error) {
	key, err := chain.ParsePrivateKey(keyHex)
	if err != nil {
		return signedWithdrawal{}, fmt.Errorf("account key: %w", err)
	}
	if ttl <= 0 || ttl > 10*time.Minute {
		return signedWithdrawal{}, fmt.Errorf("ttl must be in (0, 10m], got %s", ttl)
	}

	expires := now.Add(ttl).Unix()
	sig, err := api.SignWithdraw(key, expires)
	if err != nil {
		return signedWithdrawal{}, fmt.Errorf("sign withdrawal: %w", err)
	}
	return signedWithdrawal{
		Account:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Expires:   expires,
		Signature: sig,
	}, nil
}
