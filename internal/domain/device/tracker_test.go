package device

import (
	"testing"
	"time"

	"github.com/one-ui/control-plane/internal/domain/rule"
)

func TestTracker_AdmitsUnderLimit(t *testing.T) {
	tr := New(time.Minute, time.Minute, nil, nil, nil)

	d := tr.Touch("u1", "fp1", "in1", "1.1.1.1", 2, rule.EvaluationContext{})
	if !d.Allowed {
		t.Fatalf("expected first device admitted, got %+v", d)
	}

	d = tr.Touch("u1", "fp2", "in1", "1.1.1.1", 2, rule.EvaluationContext{})
	if !d.Allowed {
		t.Fatalf("expected second device admitted, got %+v", d)
	}
}

func TestTracker_RejectsOverLimit(t *testing.T) {
	tr := New(time.Minute, time.Minute, nil, nil, nil)

	tr.Touch("u1", "fp1", "in1", "1.1.1.1", 1, rule.EvaluationContext{})
	d := tr.Touch("u1", "fp2", "in1", "1.1.1.1", 1, rule.EvaluationContext{})
	if d.Allowed {
		t.Fatalf("expected device over limit to be rejected, got %+v", d)
	}
}

func TestTracker_SameFingerprintAlwaysAdmitted(t *testing.T) {
	tr := New(time.Minute, time.Minute, nil, nil, nil)

	tr.Touch("u1", "fp1", "in1", "1.1.1.1", 1, rule.EvaluationContext{})
	d := tr.Touch("u1", "fp1", "in1", "1.1.1.1", 1, rule.EvaluationContext{})
	if !d.Allowed {
		t.Fatalf("expected repeat fingerprint to always be admitted, got %+v", d)
	}
}

func TestTracker_ZeroLimitIsUnlimited(t *testing.T) {
	tr := New(time.Minute, time.Minute, nil, nil, nil)

	for i := 0; i < 5; i++ {
		d := tr.Touch("u1", string(rune('a'+i)), "in1", "1.1.1.1", 0, rule.EvaluationContext{})
		if !d.Allowed {
			t.Fatalf("expected unlimited admission, got %+v at iteration %d", d, i)
		}
	}
}

func TestTracker_RevokeAndDisconnectAll(t *testing.T) {
	tr := New(time.Minute, time.Minute, nil, nil, nil)

	tr.Touch("u1", "fp1", "in1", "1.1.1.1", 2, rule.EvaluationContext{})
	tr.Touch("u1", "fp2", "in1", "1.1.1.2", 2, rule.EvaluationContext{})
	tr.TouchIP("u1", "1.1.1.1", 2, rule.EvaluationContext{})
	tr.TouchIP("u1", "1.1.1.2", 2, rule.EvaluationContext{})

	tr.Revoke("u1", "fp1")
	if got := tr.ListActive("u1"); len(got) != 1 {
		t.Fatalf("len(ListActive) = %d, want 1 after revoke", len(got))
	}

	devices, ips := tr.DisconnectAll("u1")
	if devices != 1 {
		t.Fatalf("DisconnectAll devices = %d, want 1", devices)
	}
	if ips != 2 {
		t.Fatalf("DisconnectAll ips = %d, want 2", ips)
	}
	if got := tr.ListActive("u1"); len(got) != 0 {
		t.Fatalf("len(ListActive) = %d, want 0 after disconnect all", len(got))
	}
	if got := tr.ListActiveIPs("u1"); len(got) != 0 {
		t.Fatalf("len(ListActiveIPs) = %d, want 0 after disconnect all", len(got))
	}
}

func TestTracker_DeviceAndIPLimitsAreIndependent(t *testing.T) {
	tr := New(time.Minute, time.Minute, nil, nil, nil)

	// Device limit of 1, already at capacity: a second fingerprint from the
	// same IP is denied on the device axis...
	tr.Touch("u1", "fp1", "in1", "9.9.9.9", 1, rule.EvaluationContext{})
	d := tr.Touch("u1", "fp2", "in1", "9.9.9.9", 1, rule.EvaluationContext{})
	if d.Allowed {
		t.Fatalf("expected device over limit to be rejected, got %+v", d)
	}

	// ...but IP admission for the same address, gated by a separate ipLimit,
	// is entirely unaffected by the device-limit rejection above.
	ipDecision := tr.TouchIP("u1", "9.9.9.9", 1, rule.EvaluationContext{})
	if !ipDecision.Allowed {
		t.Fatalf("expected ip admission unaffected by device limit, got %+v", ipDecision)
	}

	// And exceeding the IP limit must not deny a fresh, under-limit device.
	ipDecision = tr.TouchIP("u1", "8.8.8.8", 1, rule.EvaluationContext{})
	if ipDecision.Allowed {
		t.Fatalf("expected ip over limit to be rejected, got %+v", ipDecision)
	}
	d = tr.Touch("u1", "fp3", "in1", "8.8.8.8", 10, rule.EvaluationContext{})
	if !d.Allowed {
		t.Fatalf("expected device admission unaffected by ip limit, got %+v", d)
	}
}

func TestTracker_TouchIPZeroLimitIsUnlimited(t *testing.T) {
	tr := New(time.Minute, time.Minute, nil, nil, nil)

	for i := 0; i < 5; i++ {
		d := tr.TouchIP("u1", string(rune('a'+i)), 0, rule.EvaluationContext{})
		if !d.Allowed {
			t.Fatalf("expected unlimited ip admission, got %+v at iteration %d", d, i)
		}
	}
}

func TestTracker_RevokeIP(t *testing.T) {
	tr := New(time.Minute, time.Minute, nil, nil, nil)

	tr.TouchIP("u1", "1.1.1.1", 2, rule.EvaluationContext{})
	tr.RevokeIP("u1", "1.1.1.1")
	if got := tr.ListActiveIPs("u1"); len(got) != 0 {
		t.Fatalf("len(ListActiveIPs) = %d, want 0 after revoke", len(got))
	}
}

type stubEvaluator struct {
	decision rule.Decision
	err      error
}

func (s stubEvaluator) EvaluateRules(_ []rule.Rule, _ rule.EvaluationContext) (rule.Decision, error) {
	return s.decision, s.err
}

func TestTracker_EnforcementOverrideDeny(t *testing.T) {
	ev := stubEvaluator{decision: rule.Decision{Matched: true, RuleName: "block-new-device", Outcome: rule.Deny}}
	tr := New(time.Minute, time.Minute, ev, []rule.Rule{{Name: "block-new-device", Condition: "true", Action: rule.Deny}}, nil)

	d := tr.Touch("u1", "fp1", "in1", "1.1.1.1", 10, rule.EvaluationContext{})
	if d.Allowed {
		t.Fatalf("expected enforcement override to deny, got %+v", d)
	}
}

func TestTracker_EnforcementOverrideAllowBypassesLimit(t *testing.T) {
	ev := stubEvaluator{decision: rule.Decision{Matched: true, RuleName: "vip-bypass", Outcome: rule.Allow}}
	tr := New(time.Minute, time.Minute, ev, []rule.Rule{{Name: "vip-bypass", Condition: "true", Action: rule.Allow}}, nil)

	tr.Touch("u1", "fp1", "in1", "1.1.1.1", 1, rule.EvaluationContext{})
	d := tr.Touch("u1", "fp2", "in1", "1.1.1.2", 1, rule.EvaluationContext{})
	if !d.Allowed {
		t.Fatalf("expected enforcement override to bypass device limit, got %+v", d)
	}
}

func TestTracker_IPEnforcementOverrideDeny(t *testing.T) {
	ev := stubEvaluator{decision: rule.Decision{Matched: true, RuleName: "block-new-ip", Outcome: rule.Deny}}
	tr := New(time.Minute, time.Minute, ev, []rule.Rule{{Name: "block-new-ip", Condition: "true", Action: rule.Deny}}, nil)

	d := tr.TouchIP("u1", "1.1.1.1", 10, rule.EvaluationContext{})
	if d.Allowed {
		t.Fatalf("expected ip enforcement override to deny, got %+v", d)
	}
}

func TestTracker_EvictIdle(t *testing.T) {
	tr := New(10*time.Millisecond, time.Hour, nil, nil, nil)

	tr.Touch("u1", "fp1", "in1", "1.1.1.1", 0, rule.EvaluationContext{})
	tr.TouchIP("u1", "1.1.1.1", 0, rule.EvaluationContext{})
	time.Sleep(20 * time.Millisecond)
	tr.evictIdle()

	if got := tr.ListActive("u1"); len(got) != 0 {
		t.Fatalf("len(ListActive) = %d, want 0 after idle eviction", len(got))
	}
	if got := tr.ListActiveIPs("u1"); len(got) != 0 {
		t.Fatalf("len(ListActiveIPs) = %d, want 0 after idle eviction", len(got))
	}
}

func TestTracker_StopIsIdempotent(t *testing.T) {
	tr := New(time.Minute, time.Millisecond, nil, nil, nil)
	done := make(chan struct{})
	tr.StartCleanup(done)

	tr.Stop()
	tr.Stop()
}
