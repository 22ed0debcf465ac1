package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: "9000"
booking:
  working_hours:
    - start: "09:00"
      end: "12:00"
connector:
  agents:
    parser: /api/v1/agents/parser
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEDASSIST_PARSER_MODE", "keyword")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9000" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Parser.Mode != "keyword" {
		t.Errorf("parser.mode = %q, want env override", cfg.Parser.Mode)
	}
	if cfg.Knowledge.DefaultTopK != 3 || cfg.Knowledge.MaxTopK != 20 {
		t.Errorf("knowledge defaults = %+v", cfg.Knowledge)
	}
	if cfg.Booking.DefaultDoctor != "General Practitioner" || cfg.Booking.SlotMinutes != 30 {
		t.Errorf("booking defaults = %+v", cfg.Booking)
	}
	if len(cfg.Booking.WorkingHours) != 1 || cfg.Booking.WorkingHours[0].End != "12:00" {
		t.Errorf("working hours = %+v", cfg.Booking.WorkingHours)
	}
	if cfg.Orchestrator.StepTimeout != 30*time.Second {
		t.Errorf("step timeout = %v", cfg.Orchestrator.StepTimeout)
	}
	if cfg.Connector.Agents["parser"] != "/api/v1/agents/parser" {
		t.Errorf("agents = %v", cfg.Connector.Agents)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
