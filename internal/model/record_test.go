package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRecordJSONRoundTrip(t *testing.T) {
	original := Record{
		Seq:         42,
		ID:          "5f0c2b1e-8a44-4a53-9d7e-0f5a2c9b7e11",
		Kind:        KindReward,
		Account:     "0x1111111111111111111111111111111111111111",
		Amount:      "200000000000000000000",
		Distributed: "199999999999999999999",
		Dust:        "1",
		TxHash:      "0x00000000000000000000000000000000000000000000000000000000000000e1",
		Timestamp:   "2024-01-01T00:00:00Z",
	}

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded Record
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round-trip mismatch: %+v != %+v", original, decoded)
	}
}

func TestRecordAmountsAreStrings(t *testing.T) {
	data, err := json.Marshal(Record{Kind: KindDeposit, Amount: "12345678901234567890123"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := decoded["amount"].(string); !ok {
		t.Fatalf("amount should be string")
	}
	if _, ok := decoded["ref"]; ok {
		t.Fatalf("empty ref should be omitted")
	}
	if _, ok := decoded["tx_hash"]; ok {
		t.Fatalf("empty tx hash should be omitted")
	}
}
