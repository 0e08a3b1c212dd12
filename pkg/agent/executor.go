package agent

import (
	"context"
	"fmt"

	"axon/pkg/api"
)

// approvalDenied is the verbatim result payload returned when an
// approval gate vetoes a tool invocation. It is a normal result, not an
// error: the loop continues and the model sees the refusal.
var approvalDenied = map[string]any{"error": "Action was not approved"}

// ExecuteTool resolves one named tool call against the registry and
// invokes it. Resolution failures return ErrNotFound (absent instance,
// missing Tooling capability, unknown tool name) or ErrDisabled. A panic
// inside the handler is recovered and reported as an ordinary error so a
// misbehaving tool can never take the conversation down with it.
func (e *Engine) ExecuteTool(ctx context.Context, instanceID string, call api.ToolCall, tc api.ToolContext) (result any, err error) {
	tooling, err := e.registry.Tooling(instanceID)
	if err != nil {
		return nil, err
	}

	var tool api.ToolWithHandler
	found := false
	for _, t := range tooling.Tools() {
		if t.Name == call.Name {
			tool = t
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("tool %q on instance %q: %w", call.Name, instanceID, api.ErrNotFound)
	}

	if tool.RequiresApproval {
		gate := e.registry.ApprovalGate(instanceID)
		if gate == nil {
			// No hook to ask means no way to approve.
			e.logger.Info("Tool invocation vetoed, no approval hook", "tool", call.Name, "instance", instanceID)
			return approvalDenied, nil
		}
		approved, err := gate.RequestApproval(ctx, tool.Schema(), call.Input, tc)
		if err != nil {
			return nil, fmt.Errorf("approval hook for %q: %w", call.Name, err)
		}
		if !approved {
			e.logger.Info("Tool invocation vetoed", "tool", call.Name, "instance", instanceID, "user", tc.UserID)
			return approvalDenied, nil
		}
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Tool handler panicked", "tool", call.Name, "instance", instanceID, "panic", r)
			result = nil
			err = fmt.Errorf("tool %q panicked: %v", call.Name, r)
		}
	}()

	return tool.Handler(ctx, call.Input, tc)
}
