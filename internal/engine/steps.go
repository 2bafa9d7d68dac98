package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/petrijr/chatflow/pkg/api"
)

// Built-in step types.
const (
	StepTypeNLP          = "nlp"
	StepTypeValidation   = "validation"
	StepTypeAction       = "action"
	StepTypeNotification = "notification"
)

// buildSteps deterministically builds the step list for a request category.
// The first step is always intent extraction; the built-in categories chain
// each step on its immediate predecessor.
func (e *Engine) buildSteps(req api.ChatRequest, category string) []*api.WorkflowStep {
	steps := []*api.WorkflowStep{
		e.newStep("nlp_processing", StepTypeNLP, map[string]any{
			"text":         req.Command,
			"requester_id": req.RequesterID,
		}, nil),
	}

	switch category {
	case CategoryGeneration:
		steps = append(steps,
			e.newStep("execute_generation", StepTypeAction, map[string]any{
				"auto_create_pr": true,
			}, []string{"nlp_processing"}),
			e.newStep("send_result_notification", StepTypeNotification, nil,
				[]string{"execute_generation"}),
		)
	case CategoryReview:
		steps = append(steps,
			e.newStep("execute_review", StepTypeAction, map[string]any{
				"operation_focus": "review",
			}, []string{"nlp_processing"}),
			e.newStep("send_result_notification", StepTypeNotification, nil,
				[]string{"execute_review"}),
		)
	default:
		// CategoryAction, and the fallback for unknown categories.
		steps = append(steps,
			e.newStep("validate_permissions", StepTypeValidation, map[string]any{
				"requester_id": req.RequesterID,
			}, []string{"nlp_processing"}),
			e.newStep("execute_action", StepTypeAction, nil,
				[]string{"validate_permissions"}),
			e.newStep("send_result_notification", StepTypeNotification, nil,
				[]string{"execute_action"}),
		)
	}
	return steps
}

func (e *Engine) newStep(id, stepType string, params map[string]any, deps []string) *api.WorkflowStep {
	if params == nil {
		params = map[string]any{}
	}
	return &api.WorkflowStep{
		StepID:       id,
		StepType:     stepType,
		Parameters:   params,
		Dependencies: deps,
		MaxRetries:   e.maxRetries,
		Timeout:      e.stepTimeout,
	}
}

func (e *Engine) registerBuiltins() {
	// A fresh registry cannot have duplicates.
	_ = e.registry.Register(StepTypeNLP, api.ExecutorFunc(e.executeNLP))
	_ = e.registry.Register(StepTypeValidation, api.ExecutorFunc(e.executeValidation))
	_ = e.registry.Register(StepTypeAction, api.ExecutorFunc(e.executeAction))
	_ = e.registry.Register(StepTypeNotification, api.ExecutorFunc(e.executeNotification))
}

// executeNLP delegates to the intent-extraction collaborator. Confidence is
// recorded verbatim; the engine applies no threshold of its own.
func (e *Engine) executeNLP(ctx context.Context, wf *api.WorkflowExecution, step *api.WorkflowStep) (map[string]any, error) {
	text, _ := step.Parameters["text"].(string)
	e.publishUpdate(ctx, wf, "analyzing your request")

	pr, err := e.processor.Process(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("intent extraction: %w", err)
	}
	original := pr.OriginalText
	if original == "" {
		original = text
	}
	return map[string]any{
		"original_text": original,
		"intent":        pr.Intent,
		"confidence":    pr.Confidence,
		"entities":      pr.Entities,
	}, nil
}

// executeValidation checks requester permissions and rate limits. It is a
// permissive stub: it always validates, inferring a fallback repository when
// intent extraction produced none.
func (e *Engine) executeValidation(ctx context.Context, wf *api.WorkflowExecution, step *api.WorkflowStep) (map[string]any, error) {
	requester, _ := step.Parameters["requester_id"].(string)

	repo := ""
	if nlp, ok := wf.Result("nlp_processing"); ok {
		if entities, ok := nlp["entities"].(map[string]string); ok {
			repo = entities["repository"]
		}
	}
	if repo == "" {
		repo = fmt.Sprintf("user-%s/default-repo", requester)
	}

	return map[string]any{
		"validated":     true,
		"repository":    repo,
		"permissions":   []string{"read", "write"},
		"rate_limit_ok": true,
	}, nil
}

// executeAction builds an operation from the accumulated results and hands
// it to the external-operations collaborator. A result with Success=false is
// a step failure and goes through the normal retry path.
func (e *Engine) executeAction(ctx context.Context, wf *api.WorkflowExecution, step *api.WorkflowStep) (map[string]any, error) {
	op := api.Operation{
		Type:       "unknown",
		Parameters: map[string]any{},
	}
	if nlp, ok := wf.Result("nlp_processing"); ok {
		if intent, ok := nlp["intent"].(string); ok && intent != "" {
			op.Type = intent
		}
		if entities, ok := nlp["entities"].(map[string]string); ok {
			for k, v := range entities {
				op.Parameters[k] = v
			}
		}
	}
	if val, ok := wf.Result("validate_permissions"); ok {
		if repo, ok := val["repository"].(string); ok && repo != "" {
			op.Parameters["repository"] = repo
		}
	}
	for k, v := range step.Parameters {
		op.Parameters[k] = v
	}

	e.publishUpdate(ctx, wf, "executing "+op.Type)

	res, err := e.actions.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op.Type, err)
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "operation failed"
		}
		return nil, fmt.Errorf("%s: %s", op.Type, msg)
	}

	out := map[string]any{
		"success":        true,
		"operation_type": op.Type,
	}
	for k, v := range res.Fields {
		out[k] = v
	}
	return out, nil
}

// executeNotification publishes the final human-readable summary for a
// successful workflow to the outbound notification channel.
func (e *Engine) executeNotification(ctx context.Context, wf *api.WorkflowExecution, step *api.WorkflowStep) (map[string]any, error) {
	payload := map[string]any{
		"destination_id": wf.Destination,
		"requester_id":   wf.Requester,
		"message":        summarize(wf),
		"results":        wf.Results,
	}
	if err := e.queue.Push(ctx, e.notificationsChannel, payload, 0); err != nil {
		return nil, fmt.Errorf("notification: %w", err)
	}
	return map[string]any{"notification_sent": true}, nil
}

// summarize renders the accumulated results into a plain-text summary,
// leading with the action outcome when one exists.
func summarize(wf *api.WorkflowExecution) string {
	var b strings.Builder
	b.WriteString("request completed successfully")

	result, ok := actionResult(wf)
	if !ok {
		return b.String()
	}

	keys := make([]string, 0, len(result))
	for k := range result {
		if k == "success" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, result[k])
	}
	return b.String()
}

// actionResult returns the recorded result of the workflow's action step.
func actionResult(wf *api.WorkflowExecution) (map[string]any, bool) {
	for _, step := range wf.Steps {
		if step.StepType != StepTypeAction {
			continue
		}
		if r, ok := wf.Results[step.StepID]; ok {
			return r, true
		}
	}
	return nil, false
}

// publishUpdate sends an ephemeral progress line for chat-facing consumers.
// Updates are best-effort; failures are logged, never fatal to the step.
func (e *Engine) publishUpdate(ctx context.Context, wf *api.WorkflowExecution, status string) {
	data := map[string]any{
		"destination_id": wf.Destination,
		"requester_id":   wf.Requester,
		"status":         status,
	}
	if err := e.bus.PublishNotification(ctx, e.updatesChannel, "status_update", data); err != nil {
		e.logger.Warn("status update publish failed",
			slog.String("execution_id", wf.ExecutionID),
			slog.Any("error", err),
		)
	}
}
