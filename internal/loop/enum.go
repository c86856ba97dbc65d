package loop

import (
	"encoding/json"
	"fmt"
)

type stringEnum interface {
	String() string
}

// marshalEnumJSON encodes an enum by its name.
func marshalEnumJSON[T stringEnum](v T) ([]byte, error) {
	return json.Marshal(v.String())
}

// unmarshalEnumJSON decodes an enum name with parse.
func unmarshalEnumJSON[T stringEnum](data []byte, parse func(string) (T, error)) (T, error) {
	var zero T
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return zero, err
	}
	return parse(s)
}

func parseEnumError(enumName, value string) error {
	return fmt.Errorf("unknown %s: %s", enumName, value)
}
