package ml

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Kind  Kind            `json:"kind"`
	Model json.RawMessage `json:"model"`
}

// Marshal encodes a fitted estimator together with its kind.
func Marshal(e Estimator) (json.RawMessage, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	return json.Marshal(envelope{Kind: e.Kind(), Model: body})
}

// Unmarshal decodes an estimator written by Marshal. The result must be
// fitted; an unknown kind yields ErrUnknownKind.
func Unmarshal(data []byte) (Estimator, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode estimator envelope: %w", err)
	}
	var e Estimator
	switch env.Kind {
	case KindLinearRegression:
		e = &LinearRegression{}
	case KindForestRegressor, KindForestClassifier:
		e = &RandomForest{}
	case KindBoostingRegressor:
		e = &GradientBoosting{}
	case KindKernelRidge, KindKernelClassifier:
		e = &KernelRidge{}
	case KindLogisticRegression:
		e = &LogisticRegression{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	if err := json.Unmarshal(env.Model, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
	}
	if e.Kind() != env.Kind {
		return nil, fmt.Errorf("%w: envelope says %q, body decodes as %q", ErrUnknownKind, env.Kind, e.Kind())
	}
	if e.NumFeatures() == 0 {
		return nil, fmt.Errorf("%w: decoded %s has no features", ErrNotFitted, env.Kind)
	}
	if v, ok := e.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}
	return e, nil
}
