package schema

import (
	"encoding/json"

	"github.com/uicp/coreadapter/canon"
)

// opParamsPair is the unit ComputeBatchHash stringifies: [op, params] per
// envelope, in batch order.
type opParamsPair [2]any

// ComputeBatchHash returns the stable hash of batch's content: canonical
// JSON over the ordered [op, params] pairs, sorted object keys, preserved
// array order. Identical content always yields identical output regardless
// of batchId, id, traceId, or idempotencyKey — those are request metadata,
// not content.
func ComputeBatchHash(envelopes []Envelope) (string, error) {
	pairs := make([]opParamsPair, len(envelopes))
	for i, e := range envelopes {
		var params any
		if len(e.Params) > 0 {
			if err := json.Unmarshal(e.Params, &params); err != nil {
				return "", err
			}
		}
		pairs[i] = opParamsPair{string(e.Op), params}
	}
	return canon.Hash(pairs)
}
