package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/specforge/internal/assistant"
	"github.com/kalambet/specforge/internal/learning"
	"github.com/kalambet/specforge/internal/patterns"
	"github.com/kalambet/specforge/internal/planner"
	"github.com/kalambet/specforge/internal/progress"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Planner       *planner.Planner
	Sessions      *progress.Sessions // optional; when set generate_plan also opens a session
	Assistant     *assistant.Assistant
	Learning      *learning.Store
	Patterns      *patterns.Service
	MinSimilarity float64
}

// NewMCPServer creates an MCP server with every specforge tool registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"specforge",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("specforge: plans project intake questions, generates code that follows learned preferences, and searches learned security patterns."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_plan",
			mcp.WithDescription("Analyze a project idea and return the ordered intake question plan."),
			mcp.WithString("idea", mcp.Description("Free-text project idea"), mcp.Required()),
		),
		mcpGeneratePlan(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_code",
			mcp.WithDescription("Generate code for a task, applying preferences learned from earlier corrections."),
			mcp.WithString("task", mcp.Description("Task description"), mcp.Required()),
			mcp.WithString("task_id", mcp.Description("Optional task ID; generated when empty")),
		),
		mcpGenerateCode(deps),
	)

	s.AddTool(
		mcp.NewTool("learn_correction",
			mcp.WithDescription("Learn a reusable preference from a correction of generated code."),
			mcp.WithString("task", mcp.Description("Original task description"), mcp.Required()),
			mcp.WithString("original_code", mcp.Description("Code that was suggested"), mcp.Required()),
			mcp.WithString("feedback", mcp.Description("What was wrong with it"), mcp.Required()),
			mcp.WithString("corrected_code", mcp.Description("Corrected code, if any")),
			mcp.WithString("correction_type", mcp.Description("tech_stack, pattern, style, security or other (default other)")),
		),
		mcpLearnCorrection(deps),
	)

	s.AddTool(
		mcp.NewTool("search_patterns",
			mcp.WithDescription("Semantically search learned patterns."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("type", mcp.Description("Restrict to one pattern type, e.g. security")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearchPatterns(deps),
	)

	s.AddTool(
		mcp.NewTool("list_preferences",
			mcp.WithDescription("Return the learned preferences rendered as prompt context."),
		),
		mcpListPreferences(deps),
	)

	return s
}

func mcpGeneratePlan(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		idea, err := req.RequireString("idea")
		if err != nil || idea == "" {
			return mcpError("idea is required"), nil
		}

		plan, err := deps.Planner.Generate(ctx, idea)
		if err != nil {
			return mcpError(fmt.Sprintf("plan generation failed: %v", err)), nil
		}

		out := map[string]any{"plan": plan}
		if deps.Sessions != nil {
			s := progress.Reduce(progress.NewState(), progress.InitializeFromPlan{
				Items:     plan.Items(),
				Analysis:  plan.Analysis,
				StartedAt: time.Now().UnixMilli(),
			})
			out["sessionId"] = deps.Sessions.Create(s)
		}
		return mcpJSON(out)
	}
}

func mcpGenerateCode(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		task, err := req.RequireString("task")
		if err != nil || task == "" {
			return mcpError("task is required"), nil
		}

		s, err := deps.Assistant.GenerateCode(ctx, learning.CodingTask{
			ID:          req.GetString("task_id", ""),
			Description: task,
			Timestamp:   time.Now().UnixMilli(),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("code generation failed: %v", err)), nil
		}
		return mcpJSON(s)
	}
}

func mcpLearnCorrection(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		task, err := req.RequireString("task")
		if err != nil {
			return mcpError("task is required"), nil
		}
		original, err := req.RequireString("original_code")
		if err != nil {
			return mcpError("original_code is required"), nil
		}
		feedback, err := req.RequireString("feedback")
		if err != nil {
			return mcpError("feedback is required"), nil
		}
		ct, err := learning.ParsePreferenceType(req.GetString("correction_type", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		now := time.Now().UnixMilli()
		taskID := fmt.Sprintf("task_%d", now)
		h := learning.TaskHistory{
			Task:       learning.CodingTask{ID: taskID, Description: task, Timestamp: now},
			Suggestion: learning.CodeSuggestion{TaskID: taskID, Code: original, Language: "javascript", AppliedPreferences: []string{}},
		}
		pref, err := deps.Assistant.LearnFromCorrection(ctx, learning.CorrectionFeedback{
			TaskID:         taskID,
			OriginalCode:   original,
			CorrectedCode:  req.GetString("corrected_code", ""),
			Feedback:       feedback,
			CorrectionType: ct,
		}, h)
		if err != nil {
			return mcpError(fmt.Sprintf("learning failed: %v", err)), nil
		}
		return mcpJSON(pref)
	}
}

func mcpSearchPatterns(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}
		pt, err := patterns.ParsePatternType(req.GetString("type", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		res, err := deps.Patterns.Search(ctx, query, patterns.SearchOptions{
			PatternType:   pt,
			Limit:         limit,
			MinSimilarity: deps.MinSimilarity,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpListPreferences(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prefs, err := deps.Learning.Preferences(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load preferences: %v", err)), nil
		}
		if len(prefs) == 0 {
			return mcpText("No learned preferences yet."), nil
		}
		return mcpText(learning.BuildContextFromPreferences(prefs)), nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
