package blockchain

import "encoding/json"

// txPair marshals as the two-element JSON array [id, tx], the wire
// format a block's transaction list requires. A plain map would lose
// insertion order and a struct would marshal as an object, so this
// bespoke MarshalJSON is the simplest way to get the exact tuple shape
// every implementation must agree on.
type txPair struct {
	ID string
	Tx Transaction
}

func (p txPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{p.ID, p.Tx})
}

func (p *txPair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &p.ID); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &p.Tx)
}
