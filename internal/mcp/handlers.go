package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/cadence/internal/activecontext"
	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/config"
	"github.com/ziadkadry99/cadence/internal/entity"
	"github.com/ziadkadry99/cadence/internal/memory"
)

// jsonResult returns v as indented JSON text. Rendering prose is left to the
// calling agent.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult turns an engine error into a tool error carrying only the
// user-safe message, plus any candidates for an ambiguous match.
func errorResult(err error) *mcp.CallToolResult {
	msg := apperr.UserMessage(err)
	var e *apperr.Error
	if errors.As(err, &e) && e.Code == apperr.CaptureAmbiguous {
		if c, ok := e.Details["candidates"].([]string); ok && len(c) > 0 {
			msg += ": " + strings.Join(c, "; ")
		}
	}
	return mcp.NewToolResultError(msg)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *Server) handleCapture(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}
	res, err := s.engine.Capture.Capture(ctx, text, request.GetString("context_hint", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleObserve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}
	ac, err := s.engine.Context.Observe(ctx, activecontext.Observation{
		Text:       text,
		Kind:       request.GetString("kind", activecontext.KindUtterance),
		TaskRef:    request.GetString("task_ref", ""),
		ProjectRef: request.GetString("project_ref", ""),
		TopicShift: request.GetBool("topic_shift", false),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(ac)
}

func (s *Server) handleResumptionBriefing(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		b   *activecontext.Briefing
		err error
	)
	if request.GetBool("restore", false) {
		b, err = s.engine.Context.Restore(ctx)
	} else {
		b, err = s.engine.Context.ResumptionBriefing(ctx)
	}
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(b)
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := entity.TaskFilter{
		ProjectRef: request.GetString("project", ""),
		OrderBy:    request.GetString("order", ""),
		Limit:      request.GetInt("limit", 20),
	}
	for _, st := range splitList(request.GetString("status", "")) {
		filter.Statuses = append(filter.Statuses, entity.TaskStatus(st))
	}
	if len(filter.Statuses) == 0 {
		filter.Statuses = []entity.TaskStatus{entity.TaskPending, entity.TaskInProgress, entity.TaskBlocked}
	}
	if tag := request.GetString("tag", ""); tag != "" {
		filter.Tags = []string{tag}
	}
	tasks, err := s.engine.Entities.QueryTasks(ctx, filter)
	if err != nil {
		return errorResult(err), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No matching tasks."), nil
	}
	return jsonResult(tasks)
}

func (s *Server) handleMarkDone(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("id", "")
	ref := request.GetString("reference", "")
	var (
		task *entity.Task
		err  error
	)
	switch {
	case id != "":
		task, _, err = s.engine.Capture.MarkDone(ctx, id)
	case ref != "":
		task, err = s.engine.Capture.CompleteByReference(ctx, ref)
	default:
		return mcp.NewToolResultError("either id or reference is required"), nil
	}
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(task)
}

func (s *Server) handleRecordFact(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in memory.FactInput
	var err error
	if in.Subject, err = request.RequireString("subject"); err != nil {
		return mcp.NewToolResultError("missing required parameter: subject"), nil
	}
	if in.Predicate, err = request.RequireString("predicate"); err != nil {
		return mcp.NewToolResultError("missing required parameter: predicate"), nil
	}
	if in.Object, err = request.RequireString("object"); err != nil {
		return mcp.NewToolResultError("missing required parameter: object"), nil
	}
	in.Confidence = request.GetFloat("confidence", 0.8)
	in.SourceEpisodeRef = request.GetString("source_episode", "")

	res, err := s.engine.Memory.RecordFact(ctx, in)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleQueryFacts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	facts, err := s.engine.Memory.QueryFacts(ctx, request.GetString("subject", ""), request.GetString("predicate", ""))
	if err != nil {
		return errorResult(err), nil
	}
	if len(facts) == 0 {
		return mcp.NewToolResultText("No facts recorded."), nil
	}
	return jsonResult(facts)
}

func (s *Server) handleMemoryContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := memory.ContextQuery{
		Topics:   splitList(request.GetString("topics", "")),
		Entities: splitList(request.GetString("entities", "")),
		Text:     request.GetString("query", ""),
		Limit:    request.GetInt("limit", 10),
	}
	if len(q.Topics) == 0 && len(q.Entities) == 0 && q.Text == "" {
		return mcp.NewToolResultError("give at least one of topics, entities or query"), nil
	}
	mc, err := s.engine.Memory.GetContext(ctx, q)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(mc)
}

func (s *Server) handleSetIntensity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	level, err := request.RequireString("level")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: level"), nil
	}
	profile, err := s.engine.Governor.SetIntensity(ctx, config.IntensityLevel(level))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(profile)
}

func (s *Server) handleSnooze(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := request.RequireString("ref")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: ref"), nil
	}
	var d time.Duration
	if raw := request.GetString("duration", ""); raw != "" {
		if d, err = time.ParseDuration(raw); err != nil || d <= 0 {
			return mcp.NewToolResultError(fmt.Sprintf("invalid duration %q", raw)), nil
		}
	}
	until, err := s.engine.Governor.Snooze(ctx, ref, d)
	if err != nil {
		return errorResult(err), nil
	}

	out := map[string]any{"ref": ref, "until": until}
	if id, ok := reminderID(ref); ok {
		r, err := s.engine.Entities.SnoozeReminder(ctx, id, until)
		switch {
		case err == nil:
			out["reminder"] = r
		case apperr.Is(err, apperr.EntityNotFound) && !strings.Contains(ref, ":"):
			// A bare id that is not a reminder only silences prompts.
		default:
			return errorResult(err), nil
		}
	}
	return jsonResult(out)
}

// reminderID returns the id a snooze ref may name as a reminder: an explicit
// reminder ref, or a bare id.
func reminderID(ref string) (string, bool) {
	if !strings.Contains(ref, ":") {
		return ref, true
	}
	r, err := entity.ParseRef(ref)
	if err != nil || r.Kind != entity.KindReminder {
		return "", false
	}
	return r.ID, true
}
