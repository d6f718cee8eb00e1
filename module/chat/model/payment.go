package model

// PendingPayment is a transfer obligation handed to the escrow/ledger
// collaborator. This engine only queues it and reacts to the outcome.
type PendingPayment struct {
	Amount    uint64 `json:"amount"`
	Fee       uint64 `json:"fee"`
	Ledger    UnitID `json:"ledger"`
	Recipient UserID `json:"recipient"`
	Reason    string `json:"reason"`
}
