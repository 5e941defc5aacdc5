package scene

import (
	"encoding/json"
	"fmt"
)

// Settings holds decoded construction parameters keyed by name.
type Settings map[string]any

// MergeParameters applies project overrides on top of scene parameters. An
// override must name an existing parameter and keep its type.
func MergeParameters(params, overrides []Parameter) ([]Parameter, error) {
	merged := make([]Parameter, len(params))
	copy(merged, params)

	index := make(map[string]int, len(merged))
	for i, p := range merged {
		index[p.Name] = i
	}

	for _, o := range overrides {
		i, ok := index[o.Name]
		if !ok {
			return nil, fmt.Errorf("invalid override: unknown parameter %q", o.Name)
		}
		if merged[i].Type != o.Type {
			return nil, fmt.Errorf("invalid override of %q: type mismatch (%s != %s)", o.Name, o.Type, merged[i].Type)
		}
		merged[i] = o
	}
	return merged, nil
}

// DecodeSettings decodes the JSON value of every parameter.
func DecodeSettings(params []Parameter) (Settings, error) {
	s := make(Settings, len(params))
	for _, p := range params {
		var v any
		if err := json.Unmarshal([]byte(p.Value), &v); err != nil {
			return nil, fmt.Errorf("parameter %q: invalid value: %w", p.Name, err)
		}
		s[p.Name] = v
	}
	return s, nil
}

// String returns a string setting or def when missing or of another type.
func (s Settings) String(name, def string) string {
	if v, ok := s[name].(string); ok {
		return v
	}
	return def
}

// Float returns a numeric setting or def.
func (s Settings) Float(name string, def float64) float64 {
	if v, ok := s[name].(float64); ok {
		return v
	}
	return def
}

// Int returns a numeric setting truncated to int, or def.
func (s Settings) Int(name string, def int) int {
	if v, ok := s[name].(float64); ok {
		return int(v)
	}
	return def
}

// Bool returns a boolean setting or def.
func (s Settings) Bool(name string, def bool) bool {
	if v, ok := s[name].(bool); ok {
		return v
	}
	return def
}
