package logging

import (
	"bytes"
	"context"
	"log"
	"os"
	"strings"
	"testing"
)

// captureStdout redirects the log package writer and returns a restore func.
func captureStdout(buf *bytes.Buffer) func() {
	old := log.Writer()
	log.SetOutput(buf)
	return func() { log.SetOutput(old) }
}

func TestInitializeLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  LogLevel
	}{
		{"debug", "debug", DEBUG},
		{"info", "info", INFO},
		{"warn", "WARN", WARN},
		{"error", "Error", ERROR},
		{"fatal", "fatal", FATAL},
		{"unknown defaults to info", "verbose", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Initialize(tt.level); err != nil {
				t.Fatalf("Initialize(%q) returned error: %v", tt.level, err)
			}
			if globalLogger.level != tt.want {
				t.Errorf("Initialize(%q) level = %v, want %v", tt.level, globalLogger.level, tt.want)
			}
			if globalLogger.name != "driftwatch" {
				t.Errorf("Initialize(%q) name = %q, want %q", tt.level, globalLogger.name, "driftwatch")
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	if err := Initialize("warn"); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = Initialize("info") }()

	var buf bytes.Buffer
	restore := captureStdout(&buf)
	defer restore()

	logger := GetLogger("filter.test")
	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	out := buf.String()
	if strings.Contains(out, "debug message") {
		t.Error("DEBUG should be suppressed at WARN level")
	}
	if strings.Contains(out, "info message") {
		t.Error("INFO should be suppressed at WARN level")
	}
	if !strings.Contains(out, "warn message") {
		t.Error("WARN should be emitted at WARN level")
	}
}

func TestPerPackageLevels(t *testing.T) {
	if err := Initialize("info", map[string]string{
		"window.*":   "debug",
		"dispatcher": "error",
	}); err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = SetPackageLogLevels(map[string]string{})
		_ = Initialize("info")
	}()

	var buf bytes.Buffer
	restore := captureStdout(&buf)
	defer restore()

	GetLogger("window.cache").Debug("cache debug")
	GetLogger("dispatcher").Info("dispatcher info")
	GetLogger("other").Info("other info")

	out := buf.String()
	if !strings.Contains(out, "cache debug") {
		t.Error("window.* override should enable DEBUG for window.cache")
	}
	if strings.Contains(out, "dispatcher info") {
		t.Error("dispatcher override should suppress INFO")
	}
	if !strings.Contains(out, "other info") {
		t.Error("unconfigured package should use the default level")
	}
}

func TestSetPackageLogLevelsInvalid(t *testing.T) {
	err := SetPackageLogLevels(map[string]string{"window.*": "loud"})
	if err == nil {
		t.Fatal("expected error for invalid level name")
	}

	// nil input leaves existing overrides untouched.
	if err := SetPackageLogLevels(nil); err != nil {
		t.Fatalf("SetPackageLogLevels(nil) returned error: %v", err)
	}
	_ = SetPackageLogLevels(map[string]string{})
}

func TestStructuredFields(t *testing.T) {
	if err := Initialize("info"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	restore := captureStdout(&buf)
	defer restore()

	logger := GetLogger("fields.test").WithField("sensor_id", "sensor-007")
	logger.InfoWithFields("reading scored", Field("probability", 0.91))

	out := buf.String()
	if !strings.Contains(out, "sensor_id=sensor-007") {
		t.Errorf("persistent field missing from output: %s", out)
	}
	if !strings.Contains(out, "probability=0.91") {
		t.Errorf("call-site field missing from output: %s", out)
	}
}

func TestWithFieldImmutability(t *testing.T) {
	base := GetLogger("immutable.test")
	child := base.WithField("k", "v")

	if len(base.fields) != 0 {
		t.Error("WithField must not mutate the parent logger")
	}
	if child.fields["k"] != "v" {
		t.Error("child logger missing field")
	}

	// Mutating the child's fields map must not leak back.
	grandchild := child.WithField("k2", "v2")
	if _, ok := child.fields["k2"]; ok {
		t.Error("WithField must clone the fields map")
	}
	if len(grandchild.fields) != 2 {
		t.Errorf("grandchild fields = %d, want 2", len(grandchild.fields))
	}
}

func TestWithContextTraceFields(t *testing.T) {
	if err := Initialize("info"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	restore := captureStdout(&buf)
	defer restore()

	ctx := context.WithValue(context.Background(), TraceIDKey(), "trace-123")
	ctx = context.WithValue(ctx, SpanIDKey(), "span-456")

	GetLogger("ctx.test").WithContext(ctx).Info("handling request")

	out := buf.String()
	if !strings.Contains(out, "trace_id=trace-123") {
		t.Errorf("trace_id missing from output: %s", out)
	}
	if !strings.Contains(out, "span_id=span-456") {
		t.Errorf("span_id missing from output: %s", out)
	}
}

func TestTimestampOverride(t *testing.T) {
	if err := os.Setenv("LOG_TIMESTAMP", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	defer os.Unsetenv("LOG_TIMESTAMP")

	if got := GetTimestamp(); got != "2024-01-01T00:00:00Z" {
		t.Errorf("GetTimestamp() = %q, want override value", got)
	}
}

func TestFatalUsesExitFunc(t *testing.T) {
	if err := Initialize("info"); err != nil {
		t.Fatal(err)
	}

	exitCode := -1
	oldExit := exitFunc
	exitFunc = func(code int) { exitCode = code }
	defer func() { exitFunc = oldExit }()

	GetLogger("fatal.test").Fatal("boom")
	if exitCode != 1 {
		t.Errorf("Fatal exit code = %d, want 1", exitCode)
	}
}

func TestCloneFields(t *testing.T) {
	src := map[string]interface{}{"a": 1, "b": "two"}
	dst := cloneFields(src)

	if len(dst) != 2 || dst["a"] != 1 || dst["b"] != "two" {
		t.Errorf("cloneFields = %v, want copy of %v", dst, src)
	}

	dst["c"] = 3.0
	if _, ok := src["c"]; ok {
		t.Error("mutating the clone must not affect the source")
	}

	if got := cloneFields(nil); got == nil || len(got) != 0 {
		t.Errorf("cloneFields(nil) = %v, want empty map", got)
	}
}
