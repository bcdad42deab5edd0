package logger

import "testing"

func TestNew_NopLogger(t *testing.T) {
	l := New()
	if l.Log == nil {
		t.Fatal("expected non-nil logger")
	}
	// Must not panic before Init.
	l.Log.Info("ignored")
}

func TestInit_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		l := New()
		if err := l.Init(level); err != nil {
			t.Errorf("Init(%q) failed: %v", level, err)
		}
	}
}

func TestInit_InvalidLevel(t *testing.T) {
	l := New()
	if err := l.Init("loud"); err == nil {
		t.Error("expected error for invalid level")
	}
}
