package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":    slog.LevelDebug,
		"INFO":     slog.LevelInfo,
		"":         slog.LevelInfo,
		"WARNING":  slog.LevelWarn,
		"WARN":     slog.LevelWarn,
		"ERROR":    slog.LevelError,
		"CRITICAL": slog.LevelError + 4,
		"bogus":    slog.LevelInfo,
	}
	for name, want := range cases {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestConfigWritersUsesDir(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir}
	out, errW, err := c.Writers("web:00")
	if err != nil {
		t.Fatalf("Writers: %v", err)
	}
	if out == nil || errW == nil {
		t.Fatal("expected non-nil writers when Dir is set")
	}
	defer out.Close()
	defer errW.Close()

	if _, werr := out.Write([]byte("hi\n")); werr != nil {
		t.Fatalf("write: %v", werr)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "web:00.stdout.log")); statErr != nil {
		t.Fatalf("expected stdout log file: %v", statErr)
	}
}

func TestConfigWritersExplicitPathsOverrideDir(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "custom-out.log")
	c := Config{Dir: dir, StdoutPath: outPath}
	out, errW, err := c.Writers("web")
	if err != nil {
		t.Fatalf("Writers: %v", err)
	}
	defer out.Close()
	if errW == nil {
		t.Fatal("expected stderr writer derived from Dir")
	}
	defer errW.Close()
	if _, werr := out.Write([]byte("hi\n")); werr != nil {
		t.Fatalf("write: %v", werr)
	}
	if _, statErr := os.Stat(outPath); statErr != nil {
		t.Fatalf("expected explicit stdout path to be used: %v", statErr)
	}
}

func TestConfigWritersNilWhenUnconfigured(t *testing.T) {
	c := Config{}
	out, errW, err := c.Writers("web")
	if err != nil {
		t.Fatalf("Writers: %v", err)
	}
	if out != nil || errW != nil {
		t.Fatal("expected nil writers when neither Dir nor explicit paths are set")
	}
}

func TestNewWritesToProvidedWriter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "", 0, 0, slog.LevelInfo)
	log.Info("hello")
	if buf.Len() == 0 {
		t.Fatal("expected log output in provided writer")
	}
}

func TestNewRotatesToLogfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "supervice.log")
	log := New(nil, path, 1, 2, slog.LevelInfo)
	log.Info("hello")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected logfile to be created: %v", err)
	}
}
