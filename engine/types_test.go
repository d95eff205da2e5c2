package engine

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTimestampRoundTrip(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	original := At(time.Date(2026, 3, 14, 9, 26, 53, 589793238, loc))

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Timestamp
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !decoded.Equal(original.Time) {
		t.Errorf("round trip changed instant: %v != %v", decoded, original)
	}
	if decoded.Format(time.RFC3339Nano) != original.Format(time.RFC3339Nano) {
		t.Errorf("round trip changed representation: %s != %s",
			decoded.Format(time.RFC3339Nano), original.Format(time.RFC3339Nano))
	}
}

func TestTimestampTagged(t *testing.T) {
	ts := At(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var tagged map[string]string
	if err := json.Unmarshal(data, &tagged); err != nil {
		t.Fatalf("unmarshal into map: %v", err)
	}
	if tagged["$type"] != "timestamp" {
		t.Errorf("missing type tag, got %v", tagged)
	}
}

func TestTimestampRejectsUntagged(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"plain string", `"2026-01-02T03:04:05Z"`},
		{"wrong tag", `{"$type":"date","value":"2026-01-02T03:04:05Z"}`},
		{"bad value", `{"$type":"timestamp","value":"not-a-time"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			if err := json.Unmarshal([]byte(tt.data), &ts); err == nil {
				t.Errorf("expected error for %s", tt.data)
			}
		})
	}
}

func TestTimestampZeroIsNull(t *testing.T) {
	data, err := json.Marshal(Timestamp{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("expected null, got %s", data)
	}

	var ts Timestamp
	if err := json.Unmarshal([]byte("null"), &ts); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if !ts.IsZero() {
		t.Error("expected zero timestamp from null")
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		from    TaskStatus
		to      TaskStatus
		allowed bool
	}{
		{TaskStatusPending, TaskStatusActive, true},
		{TaskStatusPending, TaskStatusWaiting, true},
		{TaskStatusPending, TaskStatusCompleted, false},
		{TaskStatusWaiting, TaskStatusActive, true},
		{TaskStatusWaiting, TaskStatusPending, true},
		{TaskStatusWaiting, TaskStatusFailed, false},
		{TaskStatusActive, TaskStatusCompleted, true},
		{TaskStatusActive, TaskStatusFailed, true},
		{TaskStatusActive, TaskStatusPending, false},
		{TaskStatusCompleted, TaskStatusActive, false},
		{TaskStatusFailed, TaskStatusPending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestSuccessRate(t *testing.T) {
	tests := []struct {
		name      string
		completed int64
		failed    int64
		want      float64
	}{
		{"no tasks", 0, 0, 0},
		{"all success", 4, 0, 1},
		{"all failed", 0, 3, 0},
		{"mixed", 3, 1, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Metrics{TasksCompleted: tt.completed, TasksFailed: tt.failed}
			if got := m.SuccessRate(); got != tt.want {
				t.Errorf("SuccessRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAgentTypeIsValid(t *testing.T) {
	for _, at := range AgentTypes {
		if !at.IsValid() {
			t.Errorf("%s should be valid", at)
		}
	}
	if AgentType("wizard").IsValid() {
		t.Error("unknown role should be invalid")
	}
}
