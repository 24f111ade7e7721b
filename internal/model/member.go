package model

// Member is the external view of an active pool member.
type Member struct {
	Address  string `json:"address"`
	Balance  string `json:"balance"`
	Position int    `json:"position"`
}

// PoolStats summarises pool accounting. Amounts are base-10 wei strings.
type PoolStats struct {
	Operator   string `json:"operator,omitempty"`
	Members    int    `json:"members"`
	TotalValue string `json:"total_value"`
	Held       string `json:"held"`
	Dust       string `json:"dust"`
	DustPolicy string `json:"dust_policy"`
	Injections uint64 `json:"injections"`
	Seq        uint64 `json:"seq"`
}

// Distribution is the external view of a reward injection.
type Distribution struct {
	Seq         uint64 `json:"seq"`
	Amount      string `json:"amount"`
	Distributed string `json:"distributed"`
	Dust        string `json:"dust"`
	Members     int    `json:"members"`
}

// Payout is the external view of a completed withdrawal.
type Payout struct {
	Seq      uint64 `json:"seq"`
	Account  string `json:"account"`
	Amount   string `json:"amount"`
	Position int    `json:"position"`
}
