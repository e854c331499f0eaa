package shield

import "encoding/json"

// Transformer rewrites an inbound client payload into the payload sent
// upstream. The streaming flag is always forced on so mid-stream truncation
// stays detectable; the model field is overridden when a forced model is
// configured.
type Transformer struct {
	forcedModel string
}

func NewTransformer(forcedModel string) *Transformer {
	return &Transformer{forcedModel: forcedModel}
}

// Transform parses the client body and returns the upstream payload. Each
// attempt reuses the same transformed payload; the original body is never
// mutated. A body that is not a JSON object fails with KindMalformedRequest.
func (t *Transformer) Transform(body []byte) ([]byte, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errorf(KindMalformedRequest, err, "request body is not a JSON object")
	}

	// A JSON null unmarshals into a nil map without error.
	if payload == nil {
		return nil, errorf(KindMalformedRequest, nil, "request body is not a JSON object")
	}

	payload["stream"] = true

	if t.forcedModel != "" {
		payload["model"] = t.forcedModel
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, errorf(KindMalformedRequest, err, "re-encode request body")
	}

	return out, nil
}
