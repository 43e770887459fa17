package service

import (
	"encoding/json"
)

// jsonCodec serializes the plain Go message structs of this service. It is
// registered under the name "json" so connect serves application/json and
// application/connect+json with it.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(message any) ([]byte, error) {
	return json.Marshal(message)
}

func (jsonCodec) Unmarshal(data []byte, message any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, message)
}
