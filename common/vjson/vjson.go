// Package vjson provides JSON marshalling/unmarshalling that enforces the
// `validate` struct tags on wire messages and persisted records, so that a
// malformed message is rejected at the decode boundary instead of surfacing
// as a nil-pointer panic deep inside the state machine.
package vjson

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// MarshalStruct validates v against its `validate` struct tags and, if it
// passes, returns its standard JSON encoding.
func MarshalStruct(v interface{}) ([]byte, error) {
	if err := validate.Struct(v); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return json.Marshal(v)
}

// UnmarshalStruct decodes data into v and then validates the result against
// v's `validate` struct tags.
func UnmarshalStruct(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
