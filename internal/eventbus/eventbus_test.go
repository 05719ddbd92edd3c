package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/GigaFlair-LLC/gigaflair-sip2-bridge/internal/mask"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestEmitLogDeliversInOrder(t *testing.T) {
	b := New(nil, nil)
	var mu sync.Mutex
	var actions []string
	b.SubscribeTransaction(func(tx Transaction) {
		mu.Lock()
		actions = append(actions, tx.Action)
		mu.Unlock()
	})

	for _, a := range []string{"checkout", "checkin", "hold"} {
		b.EmitLog(Transaction{Action: a, BranchID: "main"})
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(actions) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"checkout", "checkin", "hold"}
	for i, a := range want {
		if actions[i] != a {
			t.Errorf("actions[%d] = %q, want %q", i, actions[i], a)
		}
	}
}

func TestSubscriberPanicDoesNotStopDelivery(t *testing.T) {
	b := New(nil, nil)
	delivered := make(chan struct{}, 1)
	b.SubscribeTransaction(func(tx Transaction) {
		panic("boom")
	})
	b.SubscribeTransaction(func(tx Transaction) {
		delivered <- struct{}{}
	})

	b.EmitLog(Transaction{Action: "checkout"})

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("second subscriber never received the event")
	}
}

func TestDashboardRedactsSecretTags(t *testing.T) {
	b := New(nil, nil)
	received := make(chan DashboardEvent, 1)
	b.SubscribeDashboard(func(e DashboardEvent) { received <- e })

	b.LogToDashboard("warn", "frame rejected", map[string]any{
		"raw": "93CNsipuser|CObadpass|",
	})

	select {
	case e := <-received:
		if e.Details["raw"] == "93CNsipuser|CObadpass|" {
			t.Errorf("raw field was not redacted: %v", e.Details["raw"])
		}
	case <-time.After(time.Second):
		t.Fatal("dashboard subscriber never received the event")
	}
}

func TestDashboardMasksIdentityTagsWithMasterKey(t *testing.T) {
	masker := mask.New("test-master-key")
	b := New(masker, nil)
	received := make(chan DashboardEvent, 1)
	b.SubscribeDashboard(func(e DashboardEvent) { received <- e })

	b.LogToDashboard("info", "sent", map[string]any{
		"raw": "23AApatron123|",
	})

	select {
	case e := <-received:
		raw := e.Details["raw"].(string)
		if raw == "23AApatron123|" {
			t.Fatal("AA tag was not redacted at all")
		}
		if raw == "23AA********|" {
			t.Fatal("AA tag fell back to asterisks despite a configured master key")
		}
	case <-time.After(time.Second):
		t.Fatal("dashboard subscriber never received the event")
	}
}

func TestTransactionReforwardedAsDashboardLine(t *testing.T) {
	b := New(nil, nil)
	received := make(chan DashboardEvent, 1)
	b.SubscribeDashboard(func(e DashboardEvent) { received <- e })

	b.EmitLog(Transaction{Action: "checkout", BranchID: "main"})

	select {
	case e := <-received:
		if e.Message != "SIP2 Transaction" {
			t.Errorf("Message = %q, want \"SIP2 Transaction\"", e.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("transaction was never reforwarded to the dashboard")
	}
}
