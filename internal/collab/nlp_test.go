package collab

import (
	"context"
	"testing"

	"github.com/petrijr/chatflow/pkg/api"
)

func TestRuleProcessor_Intents(t *testing.T) {
	tests := []struct {
		text       string
		intent     string
		confidence float64
		entities   map[string]string
	}{
		{
			text:       "create branch auth-fix in demo/repo",
			intent:     "create_branch",
			confidence: 0.9,
			entities:   map[string]string{"repository": "demo/repo", "branch": "auth-fix"},
		},
		{
			text:       "please open a pull request for demo/repo",
			intent:     "create_pr",
			confidence: 0.9,
			entities:   map[string]string{"repository": "demo/repo"},
		},
		{
			text:       "merge pr #42 in demo/repo",
			intent:     "merge_pr",
			confidence: 0.9,
			entities:   map[string]string{"repository": "demo/repo", "pr_number": "42"},
		},
		{
			text:       "review pull request 7",
			intent:     "review_pr",
			confidence: 0.9,
			entities:   map[string]string{"pr_number": "7"},
		},
		{
			text:       "add a file named setup.cfg",
			intent:     "create_file",
			confidence: 0.9,
			entities:   map[string]string{"file": "setup.cfg"},
		},
		{
			text:       "remove the file old/config.yaml",
			intent:     "delete_file",
			confidence: 0.9,
			entities:   map[string]string{"repository": "old/config.yaml", "file": "old/config.yaml"},
		},
		{
			text:       "list my repositories",
			intent:     "list_repositories",
			confidence: 0.9,
			entities:   map[string]string{},
		},
		{
			text:       "write a python function to sort a list",
			intent:     "generate_code",
			confidence: 0.9,
			entities:   map[string]string{"language": "python"},
		},
		{
			text:       "what's the weather like",
			intent:     "unknown",
			confidence: 0.3,
			entities:   map[string]string{},
		},
	}

	p := NewRuleProcessor()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := p.Process(context.Background(), tt.text)
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if got.Intent != tt.intent {
				t.Errorf("intent = %q, want %q", got.Intent, tt.intent)
			}
			if got.Confidence != tt.confidence {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.confidence)
			}
			if got.OriginalText != tt.text {
				t.Errorf("original text = %q", got.OriginalText)
			}
			if len(got.Entities) != len(tt.entities) {
				t.Errorf("entities = %v, want %v", got.Entities, tt.entities)
			}
			for k, want := range tt.entities {
				if got.Entities[k] != want {
					t.Errorf("entity %s = %q, want %q", k, got.Entities[k], want)
				}
			}
		})
	}
}

// "Create" at the start must match case-insensitively and earlier rules win
// over later ones when both could apply.
func TestRuleProcessor_RuleOrder(t *testing.T) {
	p := NewRuleProcessor()
	got, err := p.Process(context.Background(), "Create a branch and then a file")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if got.Intent != "create_branch" {
		t.Fatalf("intent = %q, want create_branch", got.Intent)
	}
}

func TestEchoRunner_EchoesParameters(t *testing.T) {
	r := NewEchoRunner(nil)
	res, err := r.Execute(context.Background(), api.Operation{
		Type:       "create_branch",
		Parameters: map[string]any{"branch": "auth-fix", "repository": "demo/repo"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}
	if res.Fields["echoed"] != true {
		t.Fatalf("Fields = %v", res.Fields)
	}
	if res.Fields["branch"] != "auth-fix" || res.Fields["repository"] != "demo/repo" {
		t.Fatalf("parameters not echoed: %v", res.Fields)
	}
}
