package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleTOML = `
[general]
targets = ["my_github", "backlog"]
data = "/tmp/bw/tasks.db"
static_fields = ["project", "priority"]

[general.policies]
annotations = "merge"
tags = "keep"

[general.protect]
tags = ["next"]

[work]
targets = ["backlog"]
store = "taskwarrior"
data = "/tmp/bw/taskrc"
close_on_fetch_error = true

[my_github]
service = "github"

[my_github.options]
repos = ["ralphbean/bugwarrior"]
token = "secret-token"

[backlog]
service = "file"

[backlog.options]
path = "/tmp/bw/issues.jsonl"
`

// writeConfig writes content to a config file in a temp directory.
func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_FlavorsAndTargets(t *testing.T) {
	cfg, err := Load(writeConfig(t, "bugwarrior.toml", sampleTOML))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(cfg.Flavors) != 2 {
		t.Errorf("expected 2 flavors, got %d", len(cfg.Flavors))
	}
	if len(cfg.Targets) != 2 {
		t.Errorf("expected 2 targets, got %d", len(cfg.Targets))
	}

	f, err := cfg.Flavor("")
	if err != nil {
		t.Fatalf("Flavor() failed: %v", err)
	}
	if f.Name != "general" || f.Store != StoreSQLite {
		t.Errorf("flavor = %s/%s, want general/sqlite", f.Name, f.Store)
	}
	if f.FieldPolicy("project") != PolicyStatic {
		t.Errorf("project policy = %s, want static", f.FieldPolicy("project"))
	}
	if f.FieldPolicy("tags") != PolicyKeep {
		t.Errorf("tags policy = %s, want keep", f.FieldPolicy("tags"))
	}
	if f.FieldPolicy("description") != PolicyOverwrite {
		t.Errorf("description policy = %s, want overwrite", f.FieldPolicy("description"))
	}
	if got := f.Protect["tags"]; len(got) != 1 || got[0] != "next" {
		t.Errorf("protect tags = %v", got)
	}
	if f.LockPath() != "/tmp/bw/bugwarrior.lockfile" {
		t.Errorf("LockPath() = %s", f.LockPath())
	}
	if f.CloseOnFetchError {
		t.Error("close_on_fetch_error must default to false")
	}
	if len(f.RoughFields) != 1 || f.RoughFields[0] != "annotations" {
		t.Errorf("rough_fields default = %v", f.RoughFields)
	}

	targets := cfg.FlavorTargets(f)
	if len(targets) != 2 || targets[0].Name != "my_github" || targets[1].Name != "backlog" {
		t.Fatalf("FlavorTargets() order wrong: %+v", targets)
	}
	if repos := targets[0].Options.Strings("repos"); len(repos) != 1 || repos[0] != "ralphbean/bugwarrior" {
		t.Errorf("repos = %v", repos)
	}

	work, err := cfg.Flavor("work")
	if err != nil {
		t.Fatalf("Flavor(work) failed: %v", err)
	}
	if work.Store != StoreTaskwarrior || !work.CloseOnFetchError {
		t.Errorf("work flavor = %+v", work)
	}
}

func TestLoad_YAML(t *testing.T) {
	yamlConfig := `
general:
  targets: [backlog]
  data: /tmp/bw/tasks.db
backlog:
  service: file
  options:
    path: /tmp/issues.yaml
`
	cfg, err := Load(writeConfig(t, "bugwarrior.yaml", yamlConfig))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if _, err := cfg.Flavor(DefaultFlavor); err != nil {
		t.Fatalf("Flavor() failed: %v", err)
	}
	if cfg.Targets["backlog"].Options.String("path", "") != "/tmp/issues.yaml" {
		t.Errorf("path option = %v", cfg.Targets["backlog"].Options)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BUGWARRIOR_GENERAL_STORE", "taskwarrior")
	t.Setenv("BUGWARRIOR_MY_GITHUB_OPTIONS_TOKEN", "from-env")

	cfg, err := Load(writeConfig(t, "bugwarrior.toml", sampleTOML))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Flavors["general"].Store != StoreTaskwarrior {
		t.Errorf("store = %s, want env override", cfg.Flavors["general"].Store)
	}
	if tok := cfg.Targets["my_github"].Options.String("token", ""); tok != "from-env" {
		t.Errorf("token = %s, want env override", tok)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFlavor_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		flavor  string
		wantErr error
	}{
		{
			name:    "unknown flavor",
			content: sampleTOML,
			flavor:  "nope",
			wantErr: ErrUnknownFlavor,
		},
		{
			name:    "missing target section",
			content: "[general]\ntargets = [\"ghost\"]\n",
			wantErr: ErrInvalid,
		},
		{
			name:    "empty targets",
			content: "[general]\ntargets = []\n",
			wantErr: ErrInvalid,
		},
		{
			name:    "bad policy",
			content: "[general]\ntargets = [\"t\"]\n[general.policies]\ntags = \"union\"\n[t]\nservice = \"file\"\n",
			wantErr: ErrInvalid,
		},
		{
			name:    "protect without keep",
			content: "[general]\ntargets = [\"t\"]\n[general.protect]\ntags = [\"x\"]\n[t]\nservice = \"file\"\n",
			wantErr: ErrInvalid,
		},
		{
			name:    "bad store",
			content: "[general]\ntargets = [\"t\"]\nstore = \"csv\"\n[t]\nservice = \"file\"\n",
			wantErr: ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, "bugwarrior.toml", tt.content))
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			_, err = cfg.Flavor(tt.flavor)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFlavor_FieldPolicy(t *testing.T) {
	f := DefaultFlavorConfig()
	f.StaticFields = []string{"priority", "annotations"}
	f.Policies = map[string]string{"project": PolicyKeep}

	tests := []struct {
		field string
		want  string
	}{
		{field: "tags", want: PolicyMerge},
		{field: "annotations", want: PolicyStatic},
		{field: "priority", want: PolicyStatic},
		{field: "project", want: PolicyKeep},
		{field: "description", want: PolicyOverwrite},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			if got := f.FieldPolicy(tt.field); got != tt.want {
				t.Errorf("FieldPolicy(%s) = %s, want %s", tt.field, got, tt.want)
			}
		})
	}

	if got := DefaultFlavorConfig().FieldPolicy("annotations"); got != PolicyMerge {
		t.Errorf("default annotations policy = %s, want merge", got)
	}
}

func TestEncode_MasksSecrets(t *testing.T) {
	cfg, err := Load(writeConfig(t, "bugwarrior.toml", sampleTOML))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, cfg); err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	out := buf.String()

	if strings.Contains(out, "secret-token") {
		t.Error("token leaked in encoded config")
	}
	for _, want := range []string{"[general]", "[my_github]", "service = \"github\"", "********"} {
		if !strings.Contains(out, want) {
			t.Errorf("encoded config missing %q:\n%s", want, out)
		}
	}

	// The encoded form loads back.
	again, err := Load(writeConfig(t, "roundtrip.toml", out))
	if err != nil {
		t.Fatalf("Load(encoded) failed: %v", err)
	}
	if _, err := again.Flavor("general"); err != nil {
		t.Errorf("Flavor() on encoded config failed: %v", err)
	}
}

func TestTargetOptions(t *testing.T) {
	opts := TargetOptions{
		"flag":  "true",
		"real":  false,
		"list":  "a, b,,c",
		"count": 3,
	}

	if b, err := opts.Bool("flag", false); err != nil || !b {
		t.Errorf("Bool(flag) = %v, %v", b, err)
	}
	if b, err := opts.Bool("real", true); err != nil || b {
		t.Errorf("Bool(real) = %v, %v", b, err)
	}
	if b, _ := opts.Bool("missing", true); !b {
		t.Error("Bool(missing) must return default")
	}
	if _, err := opts.Bool("count", false); err == nil {
		t.Error("Bool(count) must fail")
	}
	if got := opts.Strings("list"); len(got) != 3 || got[2] != "c" {
		t.Errorf("Strings(list) = %v", got)
	}
	if got := opts.String("count", ""); got != "3" {
		t.Errorf("String(count) = %q", got)
	}
	if err := opts.Require("flag", "missing"); !errors.Is(err, ErrInvalid) {
		t.Errorf("Require() = %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Errorf("ExpandPath() = %s", got)
	}
	if got := ExpandPath("/abs"); got != "/abs" {
		t.Errorf("ExpandPath(/abs) = %s", got)
	}
}
