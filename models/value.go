package models

import (
	"encoding/json"
	"math"
)

// Value is a float64 that serializes NaN and ±Inf as JSON null. Statistics
// over too few samples are undefined and still have to round-trip through
// run reports.
type Value float64

// Defined reports whether v is a finite number.
func (v Value) Defined() bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Defined() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(v))
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Value(f)
	return nil
}
