// Package collab holds local implementations of the collaborator boundaries:
// a rule-based intent extractor and a stand-in action runner. Production
// deployments swap these for real services; the interfaces live in pkg/api.
package collab

import (
	"context"
	"regexp"
	"strings"

	"github.com/petrijr/chatflow/pkg/api"
)

// Confidence levels reported by the rule matcher. The engine treats these as
// pass-through data.
const (
	matchConfidence   = 0.9
	unknownConfidence = 0.3
)

type intentRule struct {
	intent string
	re     *regexp.Regexp
}

// Rules are evaluated in order; the first match wins.
var intentRules = []intentRule{
	{"create_branch", regexp.MustCompile(`(?i)\b(create|make|new)\b.*\bbranch\b`)},
	{"create_pr", regexp.MustCompile(`(?i)\b(create|open|make)\b.*\b(pull request|pr)\b`)},
	{"merge_pr", regexp.MustCompile(`(?i)\bmerge\b.*\b(pull request|pr|branch)\b`)},
	{"review_pr", regexp.MustCompile(`(?i)\breview\b.*\b(pull request|pr)\b`)},
	{"create_file", regexp.MustCompile(`(?i)\b(create|add|new)\b.*\bfile\b`)},
	{"delete_file", regexp.MustCompile(`(?i)\b(delete|remove)\b.*\bfile\b`)},
	{"list_repositories", regexp.MustCompile(`(?i)\b(list|show)\b.*\b(repos|repositories)\b`)},
	{"generate_code", regexp.MustCompile(`(?i)\b(generate|write)\b.*\b(code|function|script)\b`)},
}

var (
	repositoryRe = regexp.MustCompile(`\b([\w.-]+/[\w.-]+)\b`)
	branchRe     = regexp.MustCompile(`(?i)\bbranch\s+(?:named\s+|called\s+)?([\w./-]+)`)
	fileRe       = regexp.MustCompile(`(?i)\bfile\s+(?:named\s+|called\s+)?([\w./-]+)`)
	prNumberRe   = regexp.MustCompile(`(?i)\b(?:pr|pull request)\s+#?(\d+)`)
	languageRe   = regexp.MustCompile(`(?i)\b(python|go|golang|javascript|typescript|rust|java|ruby)\b`)
)

// RuleProcessor classifies command text with ordered regular-expression
// rules and extracts entities with per-type patterns. It keeps the
// orchestrator usable without a model-backed extraction service.
type RuleProcessor struct{}

var _ api.Processor = (*RuleProcessor)(nil)

func NewRuleProcessor() *RuleProcessor {
	return &RuleProcessor{}
}

func (p *RuleProcessor) Process(ctx context.Context, text string) (api.ProcessedRequest, error) {
	intent := "unknown"
	confidence := unknownConfidence
	for _, rule := range intentRules {
		if rule.re.MatchString(text) {
			intent = rule.intent
			confidence = matchConfidence
			break
		}
	}

	return api.ProcessedRequest{
		OriginalText: text,
		Intent:       intent,
		Confidence:   confidence,
		Entities:     extractEntities(text),
	}, nil
}

func extractEntities(text string) map[string]string {
	entities := map[string]string{}

	if m := repositoryRe.FindStringSubmatch(text); m != nil {
		entities["repository"] = m[1]
	}
	if m := branchRe.FindStringSubmatch(text); m != nil {
		entities["branch"] = m[1]
	}
	if m := fileRe.FindStringSubmatch(text); m != nil {
		entities["file"] = m[1]
	}
	if m := prNumberRe.FindStringSubmatch(text); m != nil {
		entities["pr_number"] = m[1]
	}
	if m := languageRe.FindStringSubmatch(text); m != nil {
		entities["language"] = strings.ToLower(m[1])
	}

	return entities
}
