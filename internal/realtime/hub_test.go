package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/veilpay/riskengine/internal/audit"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func decision(verdict string, score, amount float64, ruleNames ...string) *Event {
	return &Event{
		Type:      eventDecision,
		Timestamp: time.Now(),
		Decision: &audit.Event{
			ID:        "audit_test",
			Verdict:   verdict,
			RiskScore: score,
			Amount:    amount,
			Rules:     ruleNames,
		},
	}
}

// ---------------------------------------------------------------------------
// subscription filter tests
// ---------------------------------------------------------------------------

func TestWants_EmptySubscriptionReceivesEverything(t *testing.T) {
	client := &Client{}

	if !client.wants(decision("ALLOW", 0.1, 100)) {
		t.Error("default subscription should receive all decisions")
	}
	if !client.wants(decision("BLOCK", 0.95, 45000, "Critical Amount")) {
		t.Error("default subscription should receive all decisions")
	}
}

func TestWants_VerdictFilter(t *testing.T) {
	client := &Client{sub: Subscription{
		Verdicts: []string{"FLAG", "BLOCK"},
	}}

	if client.wants(decision("ALLOW", 0.1, 100)) {
		t.Error("should NOT receive ALLOW decisions")
	}
	if !client.wants(decision("FLAG", 0.6, 100)) {
		t.Error("should receive FLAG decisions")
	}
	if !client.wants(decision("BLOCK", 0.95, 100)) {
		t.Error("should receive BLOCK decisions")
	}
}

func TestWants_MinScoreFilter(t *testing.T) {
	client := &Client{sub: Subscription{MinScore: 0.8}}

	if client.wants(decision("FLAG", 0.6, 100)) {
		t.Error("should NOT receive decisions below the score cutoff")
	}
	if !client.wants(decision("BLOCK", 0.8, 100)) {
		t.Error("should receive decisions at the score cutoff")
	}
}

func TestWants_MinAmountFilter(t *testing.T) {
	client := &Client{sub: Subscription{MinAmount: 1000}}

	if client.wants(decision("ALLOW", 0.1, 500)) {
		t.Error("should NOT receive small transactions")
	}
	if !client.wants(decision("ALLOW", 0.1, 1500)) {
		t.Error("should receive large transactions")
	}
}

func TestWants_RulesOnlyFilter(t *testing.T) {
	client := &Client{sub: Subscription{RulesOnly: true}}

	if client.wants(decision("ALLOW", 0.1, 100)) {
		t.Error("should NOT receive decisions with no triggered rules")
	}
	if !client.wants(decision("FLAG", 0.6, 100, "Unknown Device")) {
		t.Error("should receive decisions with triggered rules")
	}
}

func TestWants_NilDecisionDropped(t *testing.T) {
	client := &Client{}
	if client.wants(&Event{Type: eventDecision}) {
		t.Error("events without a decision payload should be dropped")
	}
}

// ---------------------------------------------------------------------------
// hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHubRegisterAndBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 16)}
	h.register <- client

	h.BroadcastDecision(&audit.Event{ID: "audit_1", Verdict: "BLOCK", RiskScore: 0.95})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Fatal("empty broadcast payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never reached the client")
	}
}

func TestHubUnregisterClosesSend(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 16)}
	h.register <- client
	h.unregister <- client

	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatal("expected send channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel never closed")
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 16)}
	h.register <- client

	cancel()

	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatal("expected send channel closed on shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never closed the client")
	}

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub done channel never closed")
	}
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	// No Run loop draining the channel: filling it must not block.
	h := testHub()
	for i := 0; i < 300; i++ {
		h.BroadcastDecision(&audit.Event{ID: "audit_x"})
	}
}
