package mcp

import "github.com/mark3labs/mcp-go/mcp"

var captureTool = mcp.NewTool("capture",
	mcp.WithDescription("Record something the user said. It is always stored, then turned into a task, reminder or commitment when the intent is clear, or queued for triage when it is not."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("The user's words, verbatim"),
	),
	mcp.WithString("context_hint",
		mcp.Description("Optional hint about where or when it was said"),
	),
)

var observeTool = mcp.NewTool("observe",
	mcp.WithDescription("Report an utterance or action so the engine can track what the user is working on and notice interruptions."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("What the user said or did"),
	),
	mcp.WithString("kind",
		mcp.Description("Observation kind"),
		mcp.Enum("utterance", "action"),
	),
	mcp.WithString("task_ref",
		mcp.Description("Explicit task id, if known"),
	),
	mcp.WithString("project_ref",
		mcp.Description("Explicit project id, if known"),
	),
	mcp.WithBoolean("topic_shift",
		mcp.Description("Set when the user changed to an unrelated subject"),
	),
)

var resumptionBriefingTool = mcp.NewTool("resumption_briefing",
	mcp.WithDescription("Get structured data describing what the user was doing before an interruption and what to do next. Set restore to consume the interruption snapshot."),
	mcp.WithBoolean("restore",
		mcp.Description("Consume the snapshot and resume the interrupted work"),
	),
)

var listTasksTool = mcp.NewTool("list_tasks",
	mcp.WithDescription("List tasks, most recently touched first unless another order is given."),
	mcp.WithString("status",
		mcp.Description("Comma-separated statuses (pending, in_progress, blocked, done, dropped). Defaults to open tasks."),
	),
	mcp.WithString("project",
		mcp.Description("Project id to filter by"),
	),
	mcp.WithString("tag",
		mcp.Description("Context tag to filter by, e.g. errands:Superstore"),
	),
	mcp.WithString("order",
		mcp.Description("Sort key"),
		mcp.Enum("last_touched", "due_date", "priority", "urgency", "created_at", "title"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of tasks to return (default 20)"),
	),
)

var markDoneTool = mcp.NewTool("mark_done",
	mcp.WithDescription("Complete a task by id, or by a phrase that names exactly one open task."),
	mcp.WithString("id",
		mcp.Description("Task id"),
	),
	mcp.WithString("reference",
		mcp.Description("Free text naming the task, e.g. 'the quarterly report'"),
	),
)

var recordFactTool = mcp.NewTool("record_fact",
	mcp.WithDescription("Learn a fact about the user's world. A conflicting fact supersedes the old one without deleting it."),
	mcp.WithString("subject", mcp.Required(), mcp.Description("Who or what the fact is about")),
	mcp.WithString("predicate", mcp.Required(), mcp.Description("The relation, e.g. prefers, works_at")),
	mcp.WithString("object", mcp.Required(), mcp.Description("The value")),
	mcp.WithNumber("confidence", mcp.Description("Confidence from 0 to 1 (default 0.8)")),
	mcp.WithString("source_episode", mcp.Description("Episode id the fact came from")),
)

var queryFactsTool = mcp.NewTool("query_facts",
	mcp.WithDescription("List current facts, optionally narrowed by subject and predicate."),
	mcp.WithString("subject", mcp.Description("Subject to match")),
	mcp.WithString("predicate", mcp.Description("Predicate to match")),
)

var memoryContextTool = mcp.NewTool("memory_context",
	mcp.WithDescription("Recall the episodes and facts most relevant to a set of topics, entities or a free-text query."),
	mcp.WithString("topics", mcp.Description("Comma-separated topics")),
	mcp.WithString("entities", mcp.Description("Comma-separated entity ids or kind:id refs")),
	mcp.WithString("query", mcp.Description("Free text for semantic recall")),
	mcp.WithNumber("limit", mcp.Description("Maximum episodes (default 10)")),
)

var setIntensityTool = mcp.NewTool("set_intensity",
	mcp.WithDescription("Change how often the assistant may speak up unprompted."),
	mcp.WithString("level",
		mcp.Required(),
		mcp.Description("Scaffolding intensity"),
		mcp.Enum("light", "moderate", "heavy"),
	),
)

var snoozeTool = mcp.NewTool("snooze",
	mcp.WithDescription("Stop surfacing an item for a while. Snoozing a reminder id also delays the reminder itself."),
	mcp.WithString("ref",
		mcp.Required(),
		mcp.Description("Entity id or kind:id ref"),
	),
	mcp.WithString("duration",
		mcp.Description("Go duration such as 2h or 30m; defaults to the intensity profile's snooze"),
	),
)
