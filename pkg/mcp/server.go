package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowline/internal/store"
	"github.com/rendis/flowline/pkg/schema"
)

// Runner executes a workflow or pipeline by id.
type Runner interface {
	Run(ctx context.Context, id string, input any, userID string) (*schema.RunResult, error)
}

// WebhookTrigger verifies and dispatches a webhook delivery.
type WebhookTrigger interface {
	Trigger(ctx context.Context, id string, payload []byte, signature string) (*schema.RunResult, error)
}

// ScheduleReloader forces a scheduler resync.
type ScheduleReloader interface {
	Reload()
}

// FlowlineServerDeps holds the dependencies for creating a FlowlineServer.
type FlowlineServerDeps struct {
	Workflows Runner
	Pipelines Runner
	Webhooks  WebhookTrigger
	Scheduler ScheduleReloader
	Store     store.Store
	Logger    *slog.Logger
}

// FlowlineServer wraps an MCP server with flowline-specific tool handlers.
type FlowlineServer struct {
	workflows Runner
	pipelines Runner
	webhooks  WebhookTrigger
	scheduler ScheduleReloader
	store     store.Store
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewFlowlineServer creates a new FlowlineServer with all 5 tools registered.
func NewFlowlineServer(deps FlowlineServerDeps) *FlowlineServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowlineServer{
		workflows: deps.Workflows,
		pipelines: deps.Pipelines,
		webhooks:  deps.Webhooks,
		scheduler: deps.Scheduler,
		store:     deps.Store,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"flowline",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowline is a workflow and pipeline execution engine. Use flowline.run_workflow and flowline.run_pipeline to execute definitions, flowline.job_status to inspect agent jobs, flowline.trigger_webhook to deliver a signed webhook payload, and flowline.reload_schedules to resync cron schedules."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowlineServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowlineServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *FlowlineServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runWorkflowTool(), Handler: s.handleRunWorkflow},
		{Tool: runPipelineTool(), Handler: s.handleRunPipeline},
		{Tool: jobStatusTool(), Handler: s.handleJobStatus},
		{Tool: triggerWebhookTool(), Handler: s.handleTriggerWebhook},
		{Tool: reloadSchedulesTool(), Handler: s.handleReloadSchedules},
	}
}

// --- Tool definitions ---

func runWorkflowTool() mcp.Tool {
	return mcp.NewTool("flowline.run_workflow",
		mcp.WithDescription("Execute a workflow graph by id"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to execute")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("ID of the user the run is attributed to")),
		mcp.WithObject("input", mcp.Description("Input value passed to the start node")),
	)
}

func runPipelineTool() mcp.Tool {
	return mcp.NewTool("flowline.run_pipeline",
		mcp.WithDescription("Execute a sequential pipeline by id"),
		mcp.WithString("pipeline_id", mcp.Required(), mcp.Description("ID of the pipeline to execute")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("ID of the user the run is attributed to")),
		mcp.WithObject("input", mcp.Description("Initial data handed to the first step")),
	)
}

func jobStatusTool() mcp.Tool {
	return mcp.NewTool("flowline.job_status",
		mcp.WithDescription("Get the status and output of an agent job"),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("ID of the job to inspect")),
	)
}

func triggerWebhookTool() mcp.Tool {
	return mcp.NewTool("flowline.trigger_webhook",
		mcp.WithDescription("Deliver a payload to a webhook, verifying its signature when present"),
		mcp.WithString("webhook_id", mcp.Required(), mcp.Description("ID of the webhook to trigger")),
		mcp.WithString("payload", mcp.Description("Raw payload body, usually JSON")),
		mcp.WithString("signature", mcp.Description("Hex HMAC-SHA256 of the payload, optionally prefixed with sha256=")),
	)
}

func reloadSchedulesTool() mcp.Tool {
	return mcp.NewTool("flowline.reload_schedules",
		mcp.WithDescription("Force an immediate scheduler resync against the store"),
	)
}
