package model

import "encoding/json"

// Record kinds written to the journal.
const (
	KindDeposit          = "deposit"
	KindReward           = "reward"
	KindWithdraw         = "withdraw"
	KindWithdrawReverted = "withdraw_reverted"
)

// Record is one applied ledger mutation in journal order.
type Record struct {
	Seq         uint64 `json:"seq"`
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Account     string `json:"account"`
	Amount      string `json:"amount"`
	Position    int    `json:"position"`
	Distributed string `json:"distributed,omitempty"`
	Dust        string `json:"dust,omitempty"`
	Ref         string `json:"ref,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// MarshalJSON ensures Record is encoded with stable field names.
func (r Record) MarshalJSON() ([]byte, error) {
	type Alias Record
	return json.Marshal(Alias(r))
}

// UnmarshalJSON decodes a Record from JSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	type Alias Record
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = Record(a)
	return nil
}
