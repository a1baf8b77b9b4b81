package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/BKyryl/iesi/internal/engine"
	"github.com/BKyryl/iesi/internal/repository"
	"github.com/BKyryl/iesi/internal/selection"
	"github.com/BKyryl/iesi/internal/store"
)

// handleLaunch runs a root script.
func (s *IesiServer) handleLaunch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	script, err := req.RequireString("script")
	if err != nil {
		return mcp.NewToolResultError("script is required"), nil
	}
	include, err := parseNumbers(req.GetString("include", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("include: %v", err)), nil
	}
	exclude, err := parseNumbers(req.GetString("exclude", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("exclude: %v", err)), nil
	}

	launch := engine.Request{
		ScriptName:    script,
		ScriptVersion: int64(req.GetInt("version", 0)),
		Env:           req.GetString("env", ""),
		ParamList:     req.GetString("param_list", ""),
		ParamFile:     req.GetString("param_file", ""),
	}
	from, to := req.GetString("from", ""), req.GetString("to", "")
	if from != "" || to != "" || len(include) > 0 || len(exclude) > 0 {
		launch.Selection = selection.NewRange(from, to, include, exclude, nil)
	}

	s.logger.InfoContext(ctx, "mcp launch", "script", script, "env", launch.Env)
	result, runErr := s.launcher.Execute(ctx, launch)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("launch failed: %v", runErr)), nil
	}
	return marshalResult(result)
}

// handleScripts lists the script catalog.
func (s *IesiServer) handleScripts(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	out := make([]repository.ScriptInfo, 0)
	for _, info := range s.catalog.Scripts() {
		if name != "" && !strings.EqualFold(info.Name, name) {
			continue
		}
		out = append(out, info)
	}
	return marshalResult(map[string]any{"scripts": out})
}

// runResults is the iesi.results payload.
type runResults struct {
	RunID   string                `json:"run_id"`
	Scripts []*store.ScriptResult `json:"scripts"`
	Actions []*store.ActionResult `json:"actions"`
	Outputs []*store.Output       `json:"outputs,omitempty"`
}

// handleResults returns the recorded results of a run.
func (s *IesiServer) handleResults(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	pid := int64(req.GetInt("process_id", 0))

	res := runResults{RunID: runID}
	if pid > 0 {
		sr, getErr := s.results.GetScriptResult(ctx, runID, pid)
		if getErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("script result lookup failed: %v", getErr)), nil
		}
		res.Scripts = []*store.ScriptResult{sr}
		outs, outErr := s.results.ListOutputs(ctx, store.OutputScript, runID, pid)
		if outErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("output lookup failed: %v", outErr)), nil
		}
		res.Outputs = outs
	} else {
		scripts, listErr := s.results.ListScriptResults(ctx, runID)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("script result lookup failed: %v", listErr)), nil
		}
		if len(scripts) == 0 {
			return mcp.NewToolResultError(fmt.Sprintf("run %q not found", runID)), nil
		}
		res.Scripts = scripts
	}

	actions, err := s.results.ListActionResults(ctx, store.ActionResultFilter{
		RunID:           runID,
		ScriptProcessID: pid,
		Status:          strings.ToUpper(req.GetString("status", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("action result lookup failed: %v", err)), nil
	}
	res.Actions = actions
	return marshalResult(res)
}

// parseNumbers reads a comma separated list of action numbers.
func parseNumbers(text string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an action number", part)
		}
		out = append(out, n)
	}
	return out, nil
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
