package ml

import (
	"encoding/json"
	"fmt"
	"sort"
)

// LabelEncoder maps categorical strings to small integer codes in sorted
// class order. The fitted encoder is kept so later rows are encoded
// consistently and codes can be mapped back.
type LabelEncoder struct {
	Classes []string `json:"classes"`
	index   map[string]int
}

// Fit learns the sorted set of distinct values.
func (e *LabelEncoder) Fit(values []string) {
	seen := make(map[string]struct{}, len(values))
	e.Classes = e.Classes[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		e.Classes = append(e.Classes, v)
	}
	sort.Strings(e.Classes)
	e.buildIndex()
}

func (e *LabelEncoder) buildIndex() {
	e.index = classIndex(e.Classes)
}

func classIndex(classes []string) map[string]int {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return index
}

// UnmarshalJSON decodes the classes and rebuilds the lookup index, so a
// decoded encoder is safe for concurrent Transform calls.
func (e *LabelEncoder) UnmarshalJSON(data []byte) error {
	type plain LabelEncoder
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	e.Classes = decoded.Classes
	e.index = nil
	if e.Classes != nil {
		e.buildIndex()
	}
	return nil
}

// Transform encodes values. A value not seen during Fit is an error.
// Transform never modifies the encoder.
func (e *LabelEncoder) Transform(values []string) ([]float64, error) {
	index := e.index
	if index == nil {
		if e.Classes == nil {
			return nil, ErrNotFitted
		}
		index = classIndex(e.Classes)
	}
	out := make([]float64, len(values))
	for i, v := range values {
		code, ok := index[v]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnseenCategory, v)
		}
		out[i] = float64(code)
	}
	return out, nil
}

// FitTransform fits on values and encodes them.
func (e *LabelEncoder) FitTransform(values []string) []float64 {
	e.Fit(values)
	out, _ := e.Transform(values)
	return out
}

// Inverse maps a code back to its category.
func (e *LabelEncoder) Inverse(code int) (string, error) {
	if code < 0 || code >= len(e.Classes) {
		return "", fmt.Errorf("%w: code %d", ErrUnseenCategory, code)
	}
	return e.Classes[code], nil
}
