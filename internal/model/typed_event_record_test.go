package model

import (
	"encoding/json"
	"testing"
)

func TestTypedEventRecordPayloads(t *testing.T) {
	event := TypedEvent{
		Address:   "0x1111111111111111111111111111111111111111",
		Contract:  ContractPegKeeper,
		EventName: "Withdraw",
		Decoded:   AmountEventData{Amount: "2000000000000000000000", DebtAfter: "998000000000000000000000"},
	}
	line, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var record TypedEventRecord
	if err := json.Unmarshal(line, &record); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if record.Contract != ContractPegKeeper {
		t.Fatalf("contract mismatch: %s", record.Contract)
	}
	amount, err := record.Amount()
	if err != nil {
		t.Fatalf("amount failed: %v", err)
	}
	if amount.Amount != "2000000000000000000000" || amount.DebtAfter != "998000000000000000000000" {
		t.Fatalf("amount mismatch: %+v", amount)
	}

	record.Decoded = json.RawMessage(`{"lp_amount":"17"}`)
	profit, err := record.Profit()
	if err != nil {
		t.Fatalf("profit failed: %v", err)
	}
	if profit.LPAmount != "17" {
		t.Fatalf("profit mismatch: %+v", profit)
	}

	record.Decoded = json.RawMessage(`[1]`)
	if _, err := record.Amount(); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}
