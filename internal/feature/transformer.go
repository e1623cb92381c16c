package feature

import (
	"fmt"
)

// Known feature names the transformer can derive from a transaction.
const (
	FeatAmount        = "amount"
	FeatLatitude      = "latitude"
	FeatLongitude     = "longitude"
	FeatHour          = "hour"
	FeatDayOfWeek     = "day_of_week"
	FeatDayOfMonth    = "day_of_month"
	FeatTimeSinceLast = "time_since_last"
	FeatAmountDelta   = "amount_delta"
	FeatSender        = "sender"
	FeatReceiver      = "receiver"
	FeatDeviceID      = "device_id"
)

// Transformer converts validated transactions into feature vectors.
// It holds only the read-only normalization parameters; no I/O, no state.
type Transformer struct {
	params *NormParams
}

// NewTransformer builds a transformer, verifying every configured feature
// name is one the transformer knows how to derive.
func NewTransformer(params *NormParams) (*Transformer, error) {
	for _, n := range params.Numerical {
		if !knownNumerical[n.Name] {
			return nil, fmt.Errorf("unknown numerical feature %q", n.Name)
		}
	}
	for _, c := range params.Categorical {
		if !knownCategorical[c.Name] {
			return nil, fmt.Errorf("unknown categorical feature %q", c.Name)
		}
	}
	return &Transformer{params: params}, nil
}

var knownNumerical = map[string]bool{
	FeatAmount: true, FeatLatitude: true, FeatLongitude: true,
	FeatHour: true, FeatDayOfWeek: true, FeatDayOfMonth: true,
	FeatTimeSinceLast: true, FeatAmountDelta: true,
}

var knownCategorical = map[string]bool{
	FeatSender: true, FeatReceiver: true, FeatDeviceID: true,
}

// Dim returns the length of vectors this transformer produces.
func (tr *Transformer) Dim() int { return tr.params.Dim() }

// FeatureNames returns the ordered feature names of produced vectors.
func (tr *Transformer) FeatureNames() []string { return tr.params.FeatureNames() }

// Transform validates the transaction and produces its feature vector.
// Numerical features are min-max scaled with the fitted ranges; categorical
// features are label-encoded, with unseen labels encoding to 0 the same way
// the training-time encoder handled them.
func (tr *Transformer) Transform(tx *Transaction) (Vector, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	vec := make(Vector, 0, tr.params.Dim())

	for _, n := range tr.params.Numerical {
		raw := numericValue(tx, n.Name)
		vec = append(vec, scale(raw, n.Min, n.Max))
	}

	for _, c := range tr.params.Categorical {
		vec = append(vec, float64(c.Labels[categoricalValue(tx, c.Name)]))
	}

	return vec, nil
}

func numericValue(tx *Transaction, name string) float64 {
	switch name {
	case FeatAmount:
		return tx.Amount
	case FeatLatitude:
		return tx.Latitude
	case FeatLongitude:
		return tx.Longitude
	case FeatHour:
		return float64(tx.Timestamp.Hour())
	case FeatDayOfWeek:
		return float64(int(tx.Timestamp.Weekday()))
	case FeatDayOfMonth:
		return float64(tx.Timestamp.Day())
	case FeatTimeSinceLast:
		return tx.TimeSinceLast
	case FeatAmountDelta:
		return tx.AmountDelta
	}
	return 0
}

func categoricalValue(tx *Transaction, name string) string {
	switch name {
	case FeatSender:
		return tx.Sender
	case FeatReceiver:
		return tx.Receiver
	case FeatDeviceID:
		return tx.DeviceID
	}
	return ""
}

// scale applies min-max scaling. A degenerate fitted range maps to 0.
func scale(v, min, max float64) float64 {
	if max == min {
		return 0
	}
	return (v - min) / (max - min)
}
