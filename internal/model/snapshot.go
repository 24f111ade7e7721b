package model

// Snapshot is the persisted ledger state. Members are stored in slot order so
// positions survive a restore. Funding lists the transaction hashes already
// credited, so a restored ledger still refuses them.
type Snapshot struct {
	Seq        uint64           `json:"seq"`
	Members    []SnapshotMember `json:"members"`
	Held       string           `json:"held"`
	Dust       string           `json:"dust"`
	Injections uint64           `json:"injections"`
	Funding    []string         `json:"funding,omitempty"`
	UpdatedAt  string           `json:"updated_at"`
}

// SnapshotMember is a registry slot in a Snapshot.
type SnapshotMember struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}
