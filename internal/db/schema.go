package db

// migrations holds the ordered schema steps. Step N brings the database to
// user_version N. Append new steps; never edit an applied one.
var migrations = []string{
	// 1: entity store
	`
CREATE TABLE IF NOT EXISTS captures (
    id TEXT PRIMARY KEY,
    raw_text TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    context_hint TEXT NOT NULL DEFAULT '',
    processed INTEGER NOT NULL DEFAULT 0,
    converted_kind TEXT,
    converted_id TEXT,
    pending_confirmation INTEGER NOT NULL DEFAULT 0,
    triage_reason TEXT NOT NULL DEFAULT '',
    archived_at INTEGER,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_captures_processed ON captures(processed, timestamp);

CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active','paused','completed','abandoned')),
    current_phase TEXT NOT NULL DEFAULT '',
    next_step TEXT NOT NULL DEFAULT '',
    blockers TEXT NOT NULL DEFAULT '[]',
    target_date INTEGER,
    created_at INTEGER NOT NULL,
    last_touched INTEGER NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
CREATE INDEX IF NOT EXISTS idx_projects_name ON projects(name COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','in_progress','blocked','done','dropped')),
    priority INTEGER NOT NULL DEFAULT 0,
    urgency REAL NOT NULL DEFAULT 0,
    due_date INTEGER,
    project_ref TEXT REFERENCES projects(id) ON DELETE SET NULL,
    context_tags TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    last_touched INTEGER NOT NULL,
    completed_at INTEGER,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_ref);
CREATE INDEX IF NOT EXISTS idx_tasks_touched ON tasks(last_touched);

CREATE TABLE IF NOT EXISTS reminders (
    id TEXT PRIMARY KEY,
    message TEXT NOT NULL,
    trigger_time INTEGER NOT NULL,
    recurrence TEXT NOT NULL DEFAULT '' CHECK(recurrence IN ('','daily','weekly','monthly','yearly')),
    task_ref TEXT REFERENCES tasks(id) ON DELETE SET NULL,
    snoozed_until INTEGER,
    fired INTEGER NOT NULL DEFAULT 0,
    fired_at INTEGER,
    acknowledged INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(fired, trigger_time);

CREATE TABLE IF NOT EXISTS commitments (
    id TEXT PRIMARY KEY,
    what TEXT NOT NULL,
    to_whom TEXT NOT NULL DEFAULT '',
    when_made INTEGER NOT NULL,
    due_by INTEGER,
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','fulfilled','broken','renegotiated')),
    linked_task_ref TEXT REFERENCES tasks(id) ON DELETE SET NULL,
    last_touched INTEGER NOT NULL,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_commitments_status ON commitments(status);

CREATE TABLE IF NOT EXISTS measurements (
    id TEXT PRIMARY KEY,
    project_ref TEXT NOT NULL REFERENCES projects(id),
    label TEXT NOT NULL,
    value REAL NOT NULL,
    unit TEXT NOT NULL DEFAULT '',
    timestamp INTEGER NOT NULL,
    supersedes TEXT REFERENCES measurements(id)
);

CREATE INDEX IF NOT EXISTS idx_measurements_label ON measurements(project_ref, label, timestamp);
`,
	// 2: memory store
	`
CREATE TABLE IF NOT EXISTS episodes (
    id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    type TEXT NOT NULL CHECK(type IN ('conversation','decision','commitment_made','task_completed','information_shared','question_answered','project_milestone')),
    summary TEXT NOT NULL,
    detail TEXT,
    participants TEXT NOT NULL DEFAULT '[]',
    topics TEXT NOT NULL DEFAULT '[]',
    project_ref TEXT,
    task_ref TEXT,
    commitment_ref TEXT,
    people TEXT NOT NULL DEFAULT '[]',
    importance REAL NOT NULL DEFAULT 0.5,
    layer TEXT NOT NULL DEFAULT 'L2' CHECK(layer IN ('L2','L3')),
    compressed_at INTEGER,
    version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_episodes_layer ON episodes(layer, timestamp);
CREATE INDEX IF NOT EXISTS idx_episodes_task ON episodes(task_ref);
CREATE INDEX IF NOT EXISTS idx_episodes_project ON episodes(project_ref);

CREATE TABLE IF NOT EXISTS facts (
    id TEXT PRIMARY KEY,
    subject TEXT NOT NULL,
    predicate TEXT NOT NULL,
    object TEXT NOT NULL,
    confidence REAL NOT NULL,
    source_episode_ref TEXT,
    learned_at INTEGER NOT NULL,
    last_confirmed INTEGER NOT NULL,
    decayed_at INTEGER,
    contradicted_by TEXT REFERENCES facts(id),
    version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_facts_subject ON facts(subject, predicate);
CREATE INDEX IF NOT EXISTS idx_facts_active ON facts(contradicted_by);
`,
	// 3: runtime state for the tracker, governor and scheduler
	`
CREATE TABLE IF NOT EXISTS active_context (
    session_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS governor_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS job_runs (
    name TEXT PRIMARY KEY,
    last_started_at INTEGER,
    last_finished_at INTEGER,
    last_error TEXT NOT NULL DEFAULT ''
);
`,
}
