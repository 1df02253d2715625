package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlowlineServer(t *testing.T) {
	s := NewFlowlineServer(FlowlineServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
}

func TestToolRegistration(t *testing.T) {
	s := NewFlowlineServer(FlowlineServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 5)

	expectedTools := []string{
		"flowline.run_workflow",
		"flowline.run_pipeline",
		"flowline.job_status",
		"flowline.trigger_webhook",
		"flowline.reload_schedules",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"run_workflow", "flowline.run_workflow", "Execute a workflow graph by id"},
		{"run_pipeline", "flowline.run_pipeline", "Execute a sequential pipeline by id"},
		{"job_status", "flowline.job_status", "Get the status and output of an agent job"},
		{"trigger_webhook", "flowline.trigger_webhook", "Deliver a payload to a webhook, verifying its signature when present"},
		{"reload_schedules", "flowline.reload_schedules", "Force an immediate scheduler resync against the store"},
	}

	s := NewFlowlineServer(FlowlineServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
