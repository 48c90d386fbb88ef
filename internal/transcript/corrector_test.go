package transcript

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyExactWord(t *testing.T) {
	c := NewCorrector()
	c.SetRules([]Correction{
		{Original: "kubernetes", Corrected: "Kubernetes"},
	})

	got := c.Apply("deploy to kubernetes today")
	if got != "deploy to Kubernetes today" {
		t.Errorf("got %q", got)
	}
}

func TestApplyExactWordKeepsPunctuation(t *testing.T) {
	c := NewCorrector()
	c.SetRules([]Correction{
		{Original: "github", Corrected: "GitHub"},
	})

	got := c.Apply("push it to github, then review.")
	if got != "push it to GitHub, then review." {
		t.Errorf("got %q", got)
	}
}

func TestApplyExactPhraseLongestFirst(t *testing.T) {
	c := NewCorrector()
	c.SetRules([]Correction{
		{Original: "pull request", Corrected: "PR"},
		{Original: "pull request review", Corrected: "PR review"},
	})

	got := c.Apply("open a pull request review now")
	if got != "open a PR review now" {
		t.Errorf("got %q", got)
	}
}

func TestApplyPhoneticRule(t *testing.T) {
	c := NewCorrector()
	c.SetRules([]Correction{
		{Original: "postgres", Corrected: "PostgreSQL", Match: MatchPhonetic},
	})

	// "postgress" sounds like "postgres" without matching exactly.
	got := c.Apply("restart postgress please")
	if got != "restart PostgreSQL please" {
		t.Errorf("got %q", got)
	}
}

func TestApplyPreservesLeadingCapital(t *testing.T) {
	c := NewCorrector()
	c.SetRules([]Correction{
		{Original: "gitlab", Corrected: "gitlab.com"},
	})

	got := c.Apply("Gitlab is down")
	if got != "Gitlab.com is down" {
		t.Errorf("got %q", got)
	}
}

func TestApplyNoRulesPassesThrough(t *testing.T) {
	c := NewCorrector()
	const in = "nothing to see here"
	if got := c.Apply(in); got != in {
		t.Errorf("got %q", got)
	}
}

func TestApplyUnmatchedWordUntouched(t *testing.T) {
	c := NewCorrector()
	c.SetRules([]Correction{
		{Original: "grafana", Corrected: "Grafana", Match: MatchPhonetic},
	})

	const in = "completely unrelated utterance"
	if got := c.Apply(in); got != in {
		t.Errorf("got %q", got)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrections.yaml")
	content := `corrections:
  - original: get hub
    corrected: GitHub
  - original: jason
    corrected: JSON
    match: phonetic
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewCorrector()
	if err := c.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.RuleCount() != 2 {
		t.Fatalf("expected 2 rules, got %d", c.RuleCount())
	}
	if got := c.Apply("push to get hub"); got != "push to GitHub" {
		t.Errorf("got %q", got)
	}
}

func TestLoadMissingFileClearsRules(t *testing.T) {
	c := NewCorrector()
	c.SetRules([]Correction{{Original: "a", Corrected: "b"}})

	if err := c.Load(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.RuleCount() != 0 {
		t.Errorf("expected rules cleared, got %d", c.RuleCount())
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrections.yaml")
	content := `corrections:
  - original: a
    corrected: b
    typo_key: oops
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewCorrector()
	if err := c.Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestSetRulesSkipsEmptyEntries(t *testing.T) {
	c := NewCorrector()
	c.SetRules([]Correction{
		{Original: "  ", Corrected: "x"},
		{Original: "y", Corrected: ""},
	})
	if c.RuleCount() != 0 {
		t.Errorf("expected empty rules skipped, got %d", c.RuleCount())
	}
}
