package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// handleRunWorkflow executes a workflow by id.
func (s *FlowlineServer) handleRunWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)

	result, runErr := s.workflows.Run(ctx, workflowID, anyInput(input), userID)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow execution failed: %v", runErr)), nil
	}
	return marshalResult(result)
}

// handleRunPipeline executes a pipeline by id.
func (s *FlowlineServer) handleRunPipeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pipelineID, err := req.RequireString("pipeline_id")
	if err != nil {
		return mcp.NewToolResultError("pipeline_id is required"), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)

	result, runErr := s.pipelines.Run(ctx, pipelineID, anyInput(input), userID)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("pipeline execution failed: %v", runErr)), nil
	}
	return marshalResult(result)
}

// handleJobStatus returns the stored state of an agent job.
func (s *FlowlineServer) handleJobStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("job_id is required"), nil
	}

	job, getErr := s.store.GetJob(ctx, jobID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("job lookup failed: %v", getErr)), nil
	}
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job %q not found", jobID)), nil
	}
	return marshalResult(job)
}

// handleTriggerWebhook delivers a payload through the webhook dispatcher.
func (s *FlowlineServer) handleTriggerWebhook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	webhookID, err := req.RequireString("webhook_id")
	if err != nil {
		return mcp.NewToolResultError("webhook_id is required"), nil
	}
	payload := req.GetString("payload", "")
	signature := req.GetString("signature", "")

	result, trigErr := s.webhooks.Trigger(ctx, webhookID, []byte(payload), signature)
	if trigErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("webhook trigger failed: %v", trigErr)), nil
	}
	return marshalResult(result)
}

// handleReloadSchedules forces a scheduler resync.
func (s *FlowlineServer) handleReloadSchedules(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.scheduler.Reload()
	return marshalResult(map[string]any{"ok": true})
}

// anyInput keeps an absent input parameter as a nil any instead of a
// typed nil map.
func anyInput(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
