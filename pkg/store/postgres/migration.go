package postgres

// migrations returns the ordered schema migrations for the task store.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS tasks (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				instance_id TEXT NOT NULL,
				step_id TEXT NOT NULL,
				capability TEXT NOT NULL,
				action TEXT NOT NULL,
				input JSONB,
				priority INTEGER NOT NULL DEFAULT 5,
				delay_ns BIGINT NOT NULL DEFAULT 0,
				not_before TIMESTAMP WITH TIME ZONE NOT NULL,
				depends_on JSONB,
				status TEXT NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0,
				timeout_ns BIGINT NOT NULL DEFAULT 0,
				abort_on_failure BOOLEAN NOT NULL DEFAULT FALSE,
				output JSONB,
				last_error JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);
			CREATE INDEX IF NOT EXISTS idx_tasks_instance ON tasks (instance_id);
			CREATE INDEX IF NOT EXISTS idx_tasks_workflow ON tasks (workflow_id);

			CREATE TABLE IF NOT EXISTS workflow_instances (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				trigger_name TEXT NOT NULL DEFAULT '',
				trigger_data JSONB,
				status TEXT NOT NULL,
				failed_step_id TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_instances_workflow ON workflow_instances (workflow_id);
		`,
	}
}
