// Package codec defines the JSON envelope brokered backends use to carry
// requests over the wire.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/pagehive/hopper/internal/queueset"
)

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	URL     string `json:"url"`
	Attempt int    `json:"attempt"`
}

// Marshal encodes a request for transport.
func Marshal(req *queueset.Request) ([]byte, error) {
	raw, err := json.Marshal(envelope{
		ID:      req.ID,
		Type:    req.Type,
		URL:     req.URL,
		Attempt: req.Attempt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request %q: %w", req.ID, err)
	}
	return raw, nil
}

// Unmarshal decodes a transported request. The result is pending and has
// no origin; the dispatcher tags it on pop.
func Unmarshal(raw []byte) (*queueset.Request, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &queueset.Request{
		ID:      env.ID,
		Type:    env.Type,
		URL:     env.URL,
		Attempt: env.Attempt,
	}, nil
}
