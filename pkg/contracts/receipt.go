package contracts

// ReceiptPayload is the portion of a receipt covered by the event hash.
// Prev is included so that the hash commits to the receipt's position in
// the chain, not just its content.
type ReceiptPayload struct {
	System    string            `json:"system"`
	Timestamp string            `json:"timestamp"`
	Event     string            `json:"event"`
	Fields    map[string]string `json:"fields,omitempty"`
	Prev      string            `json:"prev"`
}

// Receipt is one signed, hash-chained audit-log entry.
//
// EventHash = H(JCS(payload)); Head = H("HEAD|" + Prev + "|" + EventHash +
// "|" + Signature). For every i, receipts[i].Prev == receipts[i-1].Head.
type Receipt struct {
	ReceiptID string            `json:"receipt_id"`
	System    string            `json:"system"`
	Timestamp string            `json:"timestamp"`
	Event     string            `json:"event"`
	Fields    map[string]string `json:"fields,omitempty"`
	Prev      string            `json:"prev"`
	EventHash string            `json:"event_hash"`
	Signature string            `json:"signature"`
	Head      string            `json:"head"`
}

// Payload extracts the hash-covered portion of the receipt.
func (r Receipt) Payload() ReceiptPayload {
	return ReceiptPayload{
		System:    r.System,
		Timestamp: r.Timestamp,
		Event:     r.Event,
		Fields:    r.Fields,
		Prev:      r.Prev,
	}
}
