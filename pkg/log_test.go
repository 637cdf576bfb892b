package pkg

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// captureLog routes the default logger into a buffer for the test.
func captureLog(t *testing.T, level slog.Level, asJSON bool) *bytes.Buffer {
	t.Helper()
	prevLogger, prevLevel := logger(), GetLogLevel()
	t.Cleanup(func() {
		SetLogger(prevLogger)
		SetLogLevel(prevLevel)
	})

	var buf bytes.Buffer
	SetLogLevel(level)
	if asJSON {
		SetLogger(NewJSONLogger(&buf, nil))
	} else {
		SetLogger(NewLogger(&buf, nil))
	}
	return &buf
}

func TestLogLevelFilter(t *testing.T) {
	emit := map[string]func(Component, string, ...any){
		"debug": LogDebug,
		"info":  LogInfo,
		"warn":  LogWarn,
		"error": LogError,
	}
	tests := []struct {
		level slog.Level
		want  map[string]bool
	}{
		{slog.LevelDebug, map[string]bool{"debug": true, "info": true, "warn": true, "error": true}},
		{slog.LevelInfo, map[string]bool{"info": true, "warn": true, "error": true}},
		{slog.LevelWarn, map[string]bool{"warn": true, "error": true}},
		{slog.LevelError, map[string]bool{"error": true}},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			buf := captureLog(t, tt.level, false)
			if got := GetLogLevel(); got != tt.level {
				t.Errorf("GetLogLevel() = %v, want %v", got, tt.level)
			}
			for name, fn := range emit {
				buf.Reset()
				fn(ComponentQueue, name+" record")
				if got := strings.Contains(buf.String(), name+" record"); got != tt.want[name] {
					t.Errorf("%s record written = %v at level %v, want %v", name, got, tt.level, tt.want[name])
				}
			}
		})
	}
}

func TestLogComponentAttribute(t *testing.T) {
	buf := captureLog(t, slog.LevelDebug, true)
	components := []Component{
		ComponentNode, ComponentDatabase, ComponentQueue, ComponentRequest,
		ComponentTransport, ComponentFIFO, ComponentRouting,
	}
	for _, c := range components {
		buf.Reset()
		LogInfo(c, "request completed", "request", 0x80000003, "status", StatusSuccess.String())

		var rec map[string]any
		if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
			t.Fatalf("%s: record %q is not JSON: %v", c, buf.String(), err)
		}
		if rec["component"] != string(c) {
			t.Errorf("component = %v, want %s", rec["component"], c)
		}
		if rec["msg"] != "request completed" || rec["status"] != "success" {
			t.Errorf("%s: record = %v", c, rec)
		}
	}
}

func TestLogArgsAfterComponent(t *testing.T) {
	buf := captureLog(t, slog.LevelDebug, false)
	LogDebug(ComponentTransport, "receive pending", "endpoint", "0:1:2", "request", 7)

	out := buf.String()
	ci := strings.Index(out, "component=transport")
	ei := strings.Index(out, "endpoint=0:1:2")
	if ci < 0 || ei < 0 || ci > ei {
		t.Errorf("record %q: want component before the call's attributes", out)
	}
	if !strings.Contains(out, "request=7") {
		t.Errorf("record %q missing request=7", out)
	}
}

func TestSetLogFormat(t *testing.T) {
	prev := logger()
	t.Cleanup(func() { SetLogger(prev) })

	SetLogFormat(LogFormatJSON)
	if _, ok := logger().Handler().(*slog.JSONHandler); !ok {
		t.Errorf("SetLogFormat(JSON) handler = %T", logger().Handler())
	}
	SetLogFormat(LogFormatText)
	if _, ok := logger().Handler().(*slog.TextHandler); !ok {
		t.Errorf("SetLogFormat(Text) handler = %T", logger().Handler())
	}
}
