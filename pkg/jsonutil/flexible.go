// Package jsonutil tolerates the type drift in model-produced JSON, where
// numbers arrive as strings and strings arrive as numbers.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling
// responses that use numbers or booleans where a string was asked for.
// Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return fmt.Sprintf("%d", int64(numVal))
		}
		return fmt.Sprintf("%g", numVal)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	return string(raw)
}

// FlexibleFloatValue converts a json.RawMessage to a float, handling
// responses that quote numbers ("2500000") or decorate them ("$2,500,000").
// Returns (nil, nil) for null/empty and for values with no digits at all,
// since the model writing "unknown" means the same thing as omitting it.
func FlexibleFloatValue(raw json.RawMessage) (*float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return &numVal, nil
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err != nil {
		return nil, fmt.Errorf("value is neither number nor string: %s", raw)
	}

	cleaned := strings.TrimSpace(strVal)
	cleaned = strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', ' ', '_':
			return -1
		}
		return r
	}, cleaned)
	if cleaned == "" {
		return nil, nil
	}

	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		if !strings.ContainsAny(cleaned, "0123456789") {
			return nil, nil
		}
		return nil, fmt.Errorf("unparseable numeric value %q", strVal)
	}
	return &parsed, nil
}

// FlexibleIntValue converts a json.RawMessage to an int with the same
// tolerance as FlexibleFloatValue. Fractional values round toward zero.
func FlexibleIntValue(raw json.RawMessage) (*int, error) {
	f, err := FlexibleFloatValue(raw)
	if err != nil || f == nil {
		return nil, err
	}
	n := int(*f)
	return &n, nil
}
