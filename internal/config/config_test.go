package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDecodeTOMLOverridesDefaults(t *testing.T) {
	cfg, err := DecodeTOML([]byte(`
[shapes]
max_transition_length = 8
specific_thrash_limit = 1

[frames]
register_file_size = 256
`))
	if err != nil {
		t.Fatalf("DecodeTOML: %v", err)
	}
	if cfg.Shapes.MaxTransitionLength != 8 || cfg.Shapes.SpecificThrashLimit != 1 {
		t.Fatalf("shapes not decoded: %+v", cfg.Shapes)
	}
	if cfg.Shapes.MinTableSize != 16 || cfg.Storage.InlineCapacity != 4 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.Frames.RegisterFileSize != 256 {
		t.Fatalf("frames not decoded: %+v", cfg.Frames)
	}
}

func TestDecodeTOMLRejectsUnknownKeys(t *testing.T) {
	_, err := DecodeTOML([]byte("[shapes]\nmax_depth = 3\n"))
	if err == nil || !strings.Contains(err.Error(), "shapes.max_depth") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestDecodeYAML(t *testing.T) {
	cfg, err := DecodeYAML([]byte("storage:\n  inline_capacity: 2\n  out_of_line_capacity: 8\n"))
	if err != nil {
		t.Fatalf("DecodeYAML: %v", err)
	}
	if cfg.Storage.InlineCapacity != 2 || cfg.Storage.OutOfLineCapacity != 8 {
		t.Fatalf("storage not decoded: %+v", cfg.Storage)
	}
	if _, err := DecodeYAML([]byte("storage:\n  bogus: 1\n")); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := DecodeYAML(nil); err != nil {
		t.Fatalf("empty document should keep defaults: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Shapes.MinTableSize = 12
	cfg.Storage.OutOfLineCapacity = 1
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"power of two", "out_of_line_capacity"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "tunables.toml")
	if err := os.WriteFile(tomlPath, []byte("[cache]\npolymorphic_entries = 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(tomlPath)
	if err != nil || cfg.Cache.PolymorphicEntries != 2 {
		t.Fatalf("Load toml = %+v, %v", cfg, err)
	}
	ymlPath := filepath.Join(dir, "tunables.yml")
	if err := os.WriteFile(ymlPath, []byte("cache:\n  polymorphic_entries: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(ymlPath)
	if err != nil || cfg.Cache.PolymorphicEntries != 3 {
		t.Fatalf("Load yaml = %+v, %v", cfg, err)
	}
	if _, err := Load(filepath.Join(dir, "x.json")); err == nil {
		t.Fatalf("expected error for missing/unsupported file")
	}
}
