package events

import "testing"

func TestOpenWithoutDSNIsNoop(t *testing.T) {
	r, err := Open("", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if r.conn != nil {
		t.Error("no-op recorder holds a connection")
	}

	// All operations on a no-op recorder are safe and empty.
	r.LogPipelineEvent("p", "iteration", "stage", 1, "")
	if counts, err := r.QueryEventCounts("p"); err != nil || counts != nil {
		t.Errorf("counts = %v, %v", counts, err)
	}
	if failures, err := r.QueryTaskFailures("p"); err != nil || failures != nil {
		t.Errorf("failures = %v, %v", failures, err)
	}
	if ts, err := r.LastEventTimestamp("p"); err != nil || ts != "" {
		t.Errorf("timestamp = %q, %v", ts, err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.LogPipelineEvent("p", "iteration", "", 0, "")
	if counts, err := r.QueryEventCounts("p"); err != nil || counts != nil {
		t.Errorf("counts = %v, %v", counts, err)
	}
	if failures, err := r.QueryTaskFailures("p"); err != nil || failures != nil {
		t.Errorf("failures = %v, %v", failures, err)
	}
	if ts, err := r.LastEventTimestamp("p"); err != nil || ts != "" {
		t.Errorf("timestamp = %q, %v", ts, err)
	}
}
