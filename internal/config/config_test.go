package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/n3n-go/edge/internal/transform"
)

func validConfig() *Config {
	return &Config{
		CommunityName:    "mycommunity",
		Supernodes:       []string{"supernode.example.com:7654"},
		RegisterInterval: 20,
		RegisterTTL:      60,
	}
}

func TestValidateRequiresCommunity(t *testing.T) {
	cfg := validConfig()
	cfg.CommunityName = ""
	if err := cfg.Validate(); err != ErrNoCommunity {
		t.Fatalf("got %v, want ErrNoCommunity", err)
	}
}

func TestValidateRequiresSupernode(t *testing.T) {
	cfg := validConfig()
	cfg.Supernodes = nil
	if err := cfg.ValidateEdge(); err != ErrNoSupernode {
		t.Fatalf("got %v, want ErrNoSupernode", err)
	}
}

func TestValidateEdgeAcceptsWithSupernode(t *testing.T) {
	if err := validConfig().ValidateEdge(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateAllowsSupernodeRoleWithoutSupernodes(t *testing.T) {
	cfg := validConfig()
	cfg.Supernodes = nil
	if err := cfg.Validate(); err != nil {
		t.Fatalf("supernode role config should not require a supernode list: %v", err)
	}
}

func TestValidateRejectsLongCommunity(t *testing.T) {
	cfg := validConfig()
	cfg.CommunityName = "this-community-name-is-far-too-long"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for oversized community name")
	}
}

func TestValidateRejectsTTLShorterThanInterval(t *testing.T) {
	cfg := validConfig()
	cfg.RegisterInterval = 60
	cfg.RegisterTTL = 20
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when register_ttl < register_interval")
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTransopIDFromName(t *testing.T) {
	cases := map[string]transform.ID{
		"aes":              transform.IDAES,
		"twofish":          transform.IDTwofish,
		"chacha20poly1305": transform.IDChaCha20Poly1305,
		"null":             transform.IDNull,
		"garbage":          transform.IDNull,
	}
	for name, want := range cases {
		if got := transopIDFromName(name); got != want {
			t.Errorf("transopIDFromName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestParseJSONConfigOverridesFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edge.json")
	body, _ := json.Marshal(map[string]any{
		"community_name": "fromjson",
		"mgmt_port":      9999,
	})
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatal(err)
	}

	cfg := validConfig()
	cfg.MgmtPort = 5644
	if err := parseJSONConfig(cfg, path); err != nil {
		t.Fatalf("parseJSONConfig: %v", err)
	}
	if cfg.CommunityName != "fromjson" || cfg.MgmtPort != 9999 {
		t.Fatalf("json override did not apply: %+v", cfg)
	}
	// Fields absent from the JSON file must survive untouched.
	if len(cfg.Supernodes) != 1 {
		t.Fatalf("expected supernode list to survive merge, got %v", cfg.Supernodes)
	}
}

func TestParseJSONConfigMissingFile(t *testing.T) {
	cfg := validConfig()
	if err := parseJSONConfig(cfg, filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
