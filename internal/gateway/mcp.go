package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// newMCPHandler exposes the scheduling tools to MCP clients over the
// streamable HTTP transport.
func (g *Gateway) newMCPHandler(version string) http.Handler {
	s := server.NewMCPServer("appcraft", version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("validate_schedule",
		mcp.WithDescription("Check a 5-field UTC cron expression against the parser and the 5 minute frequency floor."),
		mcp.WithString("expression", mcp.Required(), mcp.Description("cron expression, e.g. \"0 8 * * 1-5\"")),
	), g.toolValidateSchedule)

	s.AddTool(mcp.NewTool("next_runs",
		mcp.WithDescription("List the upcoming UTC run times of a cron expression."),
		mcp.WithString("expression", mcp.Required(), mcp.Description("cron expression")),
		mcp.WithNumber("count", mcp.Description("number of runs, 1 to 50, default 5")),
	), g.toolNextRuns)

	s.AddTool(mcp.NewTool("add_jobs",
		mcp.WithDescription("Register automation jobs for an application. Invalid definitions are reported, not stored."),
		mcp.WithNumber("appId", mcp.Required(), mcp.Description("application ID")),
		mcp.WithString("jobs", mcp.Required(), mcp.Description("JSON array of {name, schedule, humanReadable, action, config}")),
	), g.toolAddJobs)

	return server.NewStreamableHTTPServer(s)
}

func (g *Gateway) toolValidateSchedule(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expr, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p := previewSchedule(expr, 1, g.now())
	if !p.Valid {
		return mcp.NewToolResultError(p.Error), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("valid; next run %s", p.Runs[0].Format("2006-01-02 15:04 MST"))), nil
}

func (g *Gateway) toolNextRuns(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expr, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p := previewSchedule(expr, req.GetInt("count", defaultPreviewCount), g.now())
	if !p.Valid {
		return mcp.NewToolResultError(p.Error), nil
	}
	return jsonResult(p)
}

func (g *Gateway) toolAddJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if g.sched == nil {
		return mcp.NewToolResultError("automation engine not available"), nil
	}
	appID, err := req.RequireInt("appId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if appID <= 0 {
		return mcp.NewToolResultError("appId must be positive"), nil
	}
	raw, err := req.RequireString("jobs")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	defs, err := decodeDefinitions([]byte(raw))
	if err != nil {
		return mcp.NewToolResultError("invalid job definitions: " + err.Error()), nil
	}

	res, err := g.sched.AddJobs(ctx, int64(appID), defs)
	if err != nil {
		return nil, err
	}
	g.metrics.RecordJobs(len(res.Created), len(res.Rejected)+len(res.Dropped))

	return jsonResult(SubmitResponse{
		Created:  res.Created,
		Rejected: rejections(res.Rejected),
		Dropped:  rejections(res.Dropped),
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
