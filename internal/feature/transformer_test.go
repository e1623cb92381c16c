package feature

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func testParams(t *testing.T) *NormParams {
	t.Helper()
	p, err := LoadNormParams(filepath.Join("testdata", "norm_params.yaml"))
	if err != nil {
		t.Fatalf("LoadNormParams: %v", err)
	}
	return p
}

func validTx() *Transaction {
	return &Transaction{
		TransactionID: "txn_test",
		Sender:        "alice@okbank",
		Receiver:      "shop@okbank",
		Amount:        1200,
		DeviceID:      "82:4e:8e:2a:9e:28",
		Latitude:      12.9716,
		Longitude:     77.5946,
		Timestamp:     time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC),
	}
}

func TestLoadNormParams(t *testing.T) {
	p := testParams(t)
	if p.Dim() != 11 {
		t.Fatalf("Dim = %d, want 11", p.Dim())
	}
	names := p.FeatureNames()
	if names[0] != "amount" || names[8] != "sender" {
		t.Fatalf("unexpected feature order: %v", names)
	}
}

func TestTransformDeterminism(t *testing.T) {
	tr, err := NewTransformer(testParams(t))
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}

	tx := validTx()
	v1, err := tr.Transform(tx)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	v2, err := tr.Transform(tx)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	if !reflect.DeepEqual(v1, v2) {
		t.Fatal("same transaction produced different vectors")
	}
	if len(v1) != tr.Dim() {
		t.Fatalf("vector length %d, want %d", len(v1), tr.Dim())
	}
}

func TestTransformScaling(t *testing.T) {
	tr, err := NewTransformer(testParams(t))
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}

	tx := validTx()
	vec, err := tr.Transform(tx)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	// amount 1200 over [0, 100000]
	if got, want := vec[0], 1200.0/100000.0; got != want {
		t.Errorf("scaled amount = %v, want %v", got, want)
	}
	// hour 14 over [0, 23]
	if got, want := vec[3], 14.0/23.0; got != want {
		t.Errorf("scaled hour = %v, want %v", got, want)
	}
	// known sender encodes to its label code
	if vec[8] != 1 {
		t.Errorf("sender code = %v, want 1", vec[8])
	}
}

func TestTransformUnseenLabelEncodesZero(t *testing.T) {
	tr, err := NewTransformer(testParams(t))
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}

	tx := validTx()
	tx.DeviceID = "ff:ff:ff:ff:ff:ff"
	vec, err := tr.Transform(tx)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if vec[10] != 0 {
		t.Errorf("unseen device code = %v, want 0", vec[10])
	}
}

func TestTransformValidation(t *testing.T) {
	tr, err := NewTransformer(testParams(t))
	if err != nil {
		t.Fatalf("NewTransformer: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Transaction)
		field  string
	}{
		{"zero amount", func(tx *Transaction) { tx.Amount = 0 }, "amount"},
		{"negative amount", func(tx *Transaction) { tx.Amount = -5 }, "amount"},
		{"bad latitude", func(tx *Transaction) { tx.Latitude = 91 }, "latitude"},
		{"bad longitude", func(tx *Transaction) { tx.Longitude = -200 }, "longitude"},
		{"empty sender", func(tx *Transaction) { tx.Sender = "" }, "sender"},
		{"malformed sender", func(tx *Transaction) { tx.Sender = "no-at-sign" }, "sender"},
		{"malformed receiver", func(tx *Transaction) { tx.Receiver = "spaces in@id" }, "receiver"},
		{"zero timestamp", func(tx *Transaction) { tx.Timestamp = time.Time{} }, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTx()
			tt.mutate(tx)
			_, err := tr.Transform(tx)
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %s, want %s", verr.Field, tt.field)
			}
		})
	}
}

func TestNewTransformerRejectsUnknownFeature(t *testing.T) {
	p := &NormParams{Numerical: []NumericalParam{{Name: "velocity_of_money", Min: 0, Max: 1}}}
	if _, err := NewTransformer(p); err == nil {
		t.Fatal("expected error for unknown feature name")
	}
}
