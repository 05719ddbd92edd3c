package notify

import (
	"testing"
	"time"
)

func TestLogNotifierNeverErrors(t *testing.T) {
	n := NewLogNotifier(nil)
	if err := n.NotifyCircuitOpen("main", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("NotifyCircuitOpen: %v", err)
	}
}

func TestSMTPNotifierSkipsWhenUnconfigured(t *testing.T) {
	n := &SMTPNotifier{}
	if n.Configured() {
		t.Fatal("Configured() = true for a zero-value notifier")
	}
	if err := n.NotifyCircuitOpen("main", time.Now()); err != nil {
		t.Fatalf("NotifyCircuitOpen: %v", err)
	}
}
