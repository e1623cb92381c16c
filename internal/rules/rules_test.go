package rules

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/veilpay/riskengine/internal/feature"
)

const trustedDevice = "82:4e:8e:2a:9e:28"

func testThresholds() Thresholds {
	th := DefaultThresholds()
	th.Trust(trustedDevice)
	return th
}

func txAt(amount float64, device string, hour int) *feature.Transaction {
	return &feature.Transaction{
		TransactionID: "txn_rules_test",
		Sender:        "alice@okbank",
		Receiver:      "shop@okbank",
		Amount:        amount,
		DeviceID:      device,
		Latitude:      12.9716,
		Longitude:     77.5946,
		Timestamp:     time.Date(2025, 6, 15, hour, 15, 0, 0, time.UTC),
	}
}

func TestNoRulesTriggeredForBenignTransaction(t *testing.T) {
	e := NewEngine(testThresholds())

	// amount=1200, known device, hour=14
	final, outcomes := e.Apply(0.2, &EvalContext{
		Tx:            txAt(1200, trustedDevice, 14),
		CombinedScore: 0.2,
		CountLastHour: 1,
	})

	if len(outcomes) != 0 {
		t.Fatalf("expected no triggered rules, got %v", outcomes)
	}
	if final != 0.2 {
		t.Fatalf("final = %v, want untouched combined 0.2", final)
	}
}

func TestUnknownDeviceBaseFloor(t *testing.T) {
	e := NewEngine(testThresholds())

	// amount=1200, unknown device, hour=14, combined=0.2 → floor 0.60
	final, outcomes := e.Apply(0.2, &EvalContext{
		Tx:            txAt(1200, "ff:ff:ff:ff:ff:ff", 14),
		CombinedScore: 0.2,
		CountLastHour: 1,
	})

	if final != 0.60 {
		t.Fatalf("final = %v, want 0.60", final)
	}
	if len(outcomes) != 1 || outcomes[0].Rule != RuleUnknownDevice {
		t.Fatalf("expected single Unknown Device outcome, got %v", outcomes)
	}
}

func TestUnknownDeviceEscalatesOnHighCombinedScore(t *testing.T) {
	e := NewEngine(testThresholds())

	final, _ := e.Apply(0.45, &EvalContext{
		Tx:            txAt(1200, "ff:ff:ff:ff:ff:ff", 14),
		CombinedScore: 0.45,
		CountLastHour: 1,
	})

	if final != 0.95 {
		t.Fatalf("final = %v, want escalated floor 0.95", final)
	}
}

func TestUnknownDeviceEscalatesOnHighAmount(t *testing.T) {
	e := NewEngine(testThresholds())

	// amount=45000, unknown device, hour=3: unknown-device floor escalates
	// to 0.95 because the amount exceeds the high-amount threshold; the
	// critical-amount and off-hour rules trigger too but bind lower.
	final, outcomes := e.Apply(0.1, &EvalContext{
		Tx:            txAt(45000, "ff:ff:ff:ff:ff:ff", 3),
		CombinedScore: 0.1,
		CountLastHour: 1,
	})

	if final != 0.95 {
		t.Fatalf("final = %v, want 0.95", final)
	}

	names := map[string]bool{}
	for _, o := range outcomes {
		names[o.Rule] = true
	}
	for _, want := range []string{RuleUnknownDevice, RuleCriticalAmount, RuleHighAmountOffHour} {
		if !names[want] {
			t.Errorf("expected %q among triggered rules, got %v", want, outcomes)
		}
	}
}

func TestHighAmountAtUnusualHour(t *testing.T) {
	e := NewEngine(testThresholds())

	// amount=15000, known device, hour=3 → floor 0.60
	final, outcomes := e.Apply(0.1, &EvalContext{
		Tx:            txAt(15000, trustedDevice, 3),
		CombinedScore: 0.1,
		CountLastHour: 1,
	})

	if final != 0.60 {
		t.Fatalf("final = %v, want 0.60", final)
	}
	if len(outcomes) != 1 || outcomes[0].Rule != RuleHighAmountOffHour {
		t.Fatalf("outcomes = %v", outcomes)
	}
}

func TestHighAmountAtUsualHourNotTriggered(t *testing.T) {
	e := NewEngine(testThresholds())

	_, outcomes := e.Apply(0.1, &EvalContext{
		Tx:            txAt(15000, trustedDevice, 14),
		CombinedScore: 0.1,
		CountLastHour: 1,
	})

	for _, o := range outcomes {
		if o.Rule == RuleHighAmountOffHour {
			t.Fatalf("off-hour rule should not trigger at hour 14: %v", outcomes)
		}
	}
}

func TestUnusualHoursWindowWrapsPastMidnight(t *testing.T) {
	th := testThresholds()
	th.UnusualHourStart = 22
	th.UnusualHourEnd = 6
	e := NewEngine(th)

	eval := func(hour int) (float64, []Outcome) {
		return e.Apply(0.1, &EvalContext{
			Tx:            txAt(15000, trustedDevice, hour),
			CombinedScore: 0.1,
			CountLastHour: 1,
		})
	}

	for _, hour := range []int{22, 23, 0, 3, 5} {
		if final, _ := eval(hour); final != 0.60 {
			t.Errorf("hour %d: final = %v, want floor 0.60", hour, final)
		}
	}
	for _, hour := range []int{6, 12, 21} {
		if _, outcomes := eval(hour); len(outcomes) != 0 {
			t.Errorf("hour %d: off-hour rule triggered outside window: %v", hour, outcomes)
		}
	}
}

func TestUnusualHoursWindow(t *testing.T) {
	cases := []struct {
		hour, start, end int
		want             bool
	}{
		{3, 0, 6, true},
		{6, 0, 6, false},
		{23, 22, 6, true},
		{5, 22, 6, true},
		{6, 22, 6, false},
		{12, 22, 6, false},
		{3, 3, 3, false}, // empty window
	}
	for _, tc := range cases {
		if got := inUnusualHours(tc.hour, tc.start, tc.end); got != tc.want {
			t.Errorf("inUnusualHours(%d, %d, %d) = %v, want %v", tc.hour, tc.start, tc.end, got, tc.want)
		}
	}
}

func TestVelocityTriggersOnSixthTransaction(t *testing.T) {
	e := NewEngine(testThresholds())

	// 5 in the trailing hour (including current): at the limit, no trigger.
	_, outcomes := e.Apply(0.1, &EvalContext{
		Tx:            txAt(100, trustedDevice, 14),
		CombinedScore: 0.1,
		CountLastHour: 5,
	})
	if len(outcomes) != 0 {
		t.Fatalf("5th transaction should not trigger velocity: %v", outcomes)
	}

	// 6th transaction in the hour exceeds the limit.
	final, outcomes := e.Apply(0.1, &EvalContext{
		Tx:            txAt(100, trustedDevice, 14),
		CombinedScore: 0.1,
		CountLastHour: 6,
	})
	if final != 0.85 {
		t.Fatalf("final = %v, want velocity floor 0.85", final)
	}
	if len(outcomes) != 1 || outcomes[0].Rule != RuleHighVelocity {
		t.Fatalf("outcomes = %v", outcomes)
	}
}

func TestImpossibleTravel(t *testing.T) {
	e := NewEngine(testThresholds())

	tx := txAt(100, trustedDevice, 14)
	// Bangalore → Delhi (~1700 km) in 30 minutes.
	final, outcomes := e.Apply(0.1, &EvalContext{
		Tx:            tx,
		CombinedScore: 0.1,
		CountLastHour: 1,
		HasPrevious:   true,
		PrevLatitude:  28.7041,
		PrevLongitude: 77.1025,
		PrevTimestamp: tx.Timestamp.Add(-30 * time.Minute),
	})

	if final != 0.90 {
		t.Fatalf("final = %v, want impossible-travel floor 0.90", final)
	}
	if len(outcomes) != 1 || outcomes[0].Rule != RuleImpossibleTravel {
		t.Fatalf("outcomes = %v", outcomes)
	}
}

func TestImpossibleTravelPlausibleSpeedNotTriggered(t *testing.T) {
	e := NewEngine(testThresholds())

	tx := txAt(100, trustedDevice, 14)
	// Same city, one hour apart.
	_, outcomes := e.Apply(0.1, &EvalContext{
		Tx:            tx,
		CombinedScore: 0.1,
		CountLastHour: 1,
		HasPrevious:   true,
		PrevLatitude:  12.9352,
		PrevLongitude: 77.6245,
		PrevTimestamp: tx.Timestamp.Add(-time.Hour),
	})
	if len(outcomes) != 0 {
		t.Fatalf("plausible travel should not trigger: %v", outcomes)
	}
}

func TestImpossibleTravelUnevaluableIsNotTriggered(t *testing.T) {
	e := NewEngine(testThresholds())
	tx := txAt(100, trustedDevice, 14)

	// No previous observation.
	_, outcomes := e.Apply(0.1, &EvalContext{Tx: tx, CombinedScore: 0.1, CountLastHour: 1})
	if len(outcomes) != 0 {
		t.Fatalf("no-history travel check should not trigger: %v", outcomes)
	}

	// Non-positive elapsed time: cannot evaluate, not triggered.
	_, outcomes = e.Apply(0.1, &EvalContext{
		Tx:            tx,
		CombinedScore: 0.1,
		CountLastHour: 1,
		HasPrevious:   true,
		PrevLatitude:  28.7041,
		PrevLongitude: 77.1025,
		PrevTimestamp: tx.Timestamp.Add(time.Minute),
	})
	if len(outcomes) != 0 {
		t.Fatalf("non-positive elapsed should not trigger: %v", outcomes)
	}
}

func TestApplyNeverLowersScore(t *testing.T) {
	e := NewEngine(testThresholds())

	// Combined already above every floor that can trigger here.
	final, _ := e.Apply(0.97, &EvalContext{
		Tx:            txAt(45000, "ff:ff:ff:ff:ff:ff", 3),
		CombinedScore: 0.97,
		CountLastHour: 6,
	})
	if final != 0.97 {
		t.Fatalf("final = %v, rules must never reduce the score", final)
	}
}

func TestTriggeredRuleMonotonicity(t *testing.T) {
	e := NewEngine(testThresholds())

	for _, combined := range []float64{0, 0.1, 0.3, 0.59, 0.61, 0.9} {
		without, _ := e.Apply(combined, &EvalContext{
			Tx: txAt(1200, trustedDevice, 14), CombinedScore: combined, CountLastHour: 1,
		})
		with, _ := e.Apply(combined, &EvalContext{
			Tx: txAt(1200, "ff:ff:ff:ff:ff:ff", 14), CombinedScore: combined, CountLastHour: 1,
		})
		if with < without {
			t.Fatalf("adding a trigger lowered score: %v < %v at combined %v", with, without, combined)
		}
	}
}

func TestEvaluationOrderInsensitive(t *testing.T) {
	th := testThresholds()
	forward := NewEngine(th)

	reversed := DefaultRules()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	backward := NewEngine(th, reversed...)

	ec := func() *EvalContext {
		return &EvalContext{
			Tx:            txAt(45000, "ff:ff:ff:ff:ff:ff", 3),
			CombinedScore: 0.3,
			CountLastHour: 7,
		}
	}

	f1, o1 := forward.Apply(0.3, ec())
	f2, o2 := backward.Apply(0.3, ec())

	if math.Abs(f1-f2) > 1e-12 {
		t.Fatalf("order changed final score: %v vs %v", f1, f2)
	}
	if len(o1) != len(o2) {
		t.Fatalf("order changed triggered set size: %d vs %d", len(o1), len(o2))
	}
}

func TestHaversine(t *testing.T) {
	// Bangalore → Delhi is roughly 1740 km.
	d := haversineKm(12.9716, 77.5946, 28.7041, 77.1025)
	if d < 1700 || d > 1800 {
		t.Fatalf("haversine = %v km, want ~1740", d)
	}
	if z := haversineKm(10, 20, 10, 20); z != 0 {
		t.Fatalf("zero distance = %v", z)
	}
}

func TestLoadThresholdsOverrides(t *testing.T) {
	th, err := LoadThresholds(filepath.Join("testdata", "rules.yaml"))
	if err != nil {
		t.Fatalf("LoadThresholds: %v", err)
	}

	if th.HighAmount != 20000 {
		t.Errorf("HighAmount = %v, want override 20000", th.HighAmount)
	}
	if th.VelocityFloor != 0.9 {
		t.Errorf("VelocityFloor = %v, want override 0.9", th.VelocityFloor)
	}
	// Untouched fields keep defaults.
	if th.CriticalAmount != 30000 {
		t.Errorf("CriticalAmount = %v, want default 30000", th.CriticalAmount)
	}
	if !th.TrustedDevices["aa:bb:cc:dd:ee:ff"] {
		t.Error("trusted device from file not loaded")
	}
}
