package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"production", *ProductionConfig(), false},
		{"bad level", Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
		{"discard", Config{Level: InfoLevel, Format: JSONFormat, Output: DiscardOutput}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFieldsAccumulate(t *testing.T) {
	base, hook := test.NewNullLogger()
	log := FromLogrus(base).
		WithComponent("batch").
		WithField("upload_id", "u-1").
		WithFields(Fields{"batch": 2})

	log.Info("batch done")

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected an entry to be recorded")
	}
	if entry.Data["component"] != "batch" || entry.Data["upload_id"] != "u-1" || entry.Data["batch"] != 2 {
		t.Errorf("fields were not carried through: %v", entry.Data)
	}
	if entry.Message != "batch done" {
		t.Errorf("unexpected message %q", entry.Message)
	}
}

func TestWithErrorAndLevel(t *testing.T) {
	base, hook := test.NewNullLogger()
	FromLogrus(base).WithError(errors.New("boom")).Warn("retrying")

	entry := hook.LastEntry()
	if entry.Level != logrus.WarnLevel {
		t.Errorf("expected warn level, got %s", entry.Level)
	}
	if err, ok := entry.Data[logrus.ErrorKey].(error); !ok || err.Error() != "boom" {
		t.Errorf("expected error field, got %v", entry.Data[logrus.ErrorKey])
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&Config{Level: DebugLevel, Format: JSONFormat, Output: StdoutOutput, Writer: &buf, DisableTimestamp: true})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	log.WithField("rule_id", "r-1").Debug("matched")

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if decoded["rule_id"] != "r-1" || decoded["msg"] != "matched" {
		t.Errorf("unexpected payload %v", decoded)
	}
}

func TestProgressTracker(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tracker := NewProgressTracker(ProgressConfig{
		Operation: "ingest",
		Total:     100,
		Completed: 10,
		Logger:    NewNopLogger(),
		Clock:     clock,
	})

	now = now.Add(10 * time.Second)
	tracker.Add(20)

	stats := tracker.GetStats()
	if stats.Current != 30 {
		t.Errorf("expected current 30, got %d", stats.Current)
	}
	if stats.Percentage != 30 {
		t.Errorf("expected 30%%, got %.1f", stats.Percentage)
	}
	// 30 units in 10s = 3/s, 70 remaining
	want := EstimateRemaining(70, 3)
	if stats.ETA != want {
		t.Errorf("expected ETA %v, got %v", want, stats.ETA)
	}

	tracker.Add(500)
	if got := tracker.GetStats().Current; got != 100 {
		t.Errorf("expected counter to clamp at total, got %d", got)
	}
}

func TestEstimateRemaining(t *testing.T) {
	if EstimateRemaining(0, 5) != 0 {
		t.Error("expected zero when nothing remains")
	}
	if EstimateRemaining(10, 0) != 0 {
		t.Error("expected zero when rate is unknown")
	}
	if got := EstimateRemaining(10, 2); got != 5*time.Second {
		t.Errorf("expected 5s, got %v", got)
	}
}

func TestTimedOperation(t *testing.T) {
	base, hook := test.NewNullLogger()
	err := TimedOperation("import", FromLogrus(base), func() error { return errors.New("failed") })
	if err == nil {
		t.Fatal("expected the function error to be returned")
	}
	if hook.LastEntry().Level != logrus.ErrorLevel {
		t.Errorf("expected error entry, got %s", hook.LastEntry().Level)
	}
}
