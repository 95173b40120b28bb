package audit

import "testing"

func TestRiskLevel_Valid(t *testing.T) {
	for _, lvl := range []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical} {
		if !lvl.Valid() {
			t.Errorf("expected %q to be valid", lvl)
		}
	}
	if RiskLevel("severe").Valid() {
		t.Error("expected unknown risk level to be invalid")
	}
}

func TestDefaultRetentionPolicy(t *testing.T) {
	p := DefaultRetentionPolicy()
	if p.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", p.RetentionDays)
	}
	if p.ArchiveEnabled {
		t.Error("archiving should be opt-in")
	}
}
