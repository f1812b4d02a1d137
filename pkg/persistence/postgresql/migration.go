package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE executions (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(64) NOT NULL,
				project_id VARCHAR(64) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'paused', 'completed', 'failed', 'cancelled')),
				current_step_index INTEGER NOT NULL DEFAULT 0,
				total_steps INTEGER NOT NULL,
				steps JSONB NOT NULL,
				context_data JSONB,
				created_artifact_ids JSONB,
				error_message TEXT,
				failed_at_step INTEGER,
				paused_reason TEXT,
				cancelled_reason TEXT,
				recovery_attempts INTEGER NOT NULL DEFAULT 0,
				version BIGINT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_executions_project_id ON executions(project_id);
			CREATE INDEX idx_executions_status ON executions(status);

			CREATE TABLE workflows (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT,
				steps JSONB NOT NULL,
				parallel BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE hitl_requests (
				id VARCHAR(64) PRIMARY KEY,
				project_id VARCHAR(64) NOT NULL,
				task_id VARCHAR(64),
				execution_id VARCHAR(64) NOT NULL,
				trigger_kind VARCHAR(40) NOT NULL,
				question TEXT NOT NULL,
				options JSONB,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'approved', 'rejected', 'amended', 'expired')),
				user_response TEXT,
				amendments JSONB,
				history JSONB,
				escalated_from VARCHAR(64),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
				responded_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_hitl_requests_project_id ON hitl_requests(project_id);
			CREATE INDEX idx_hitl_requests_status_expires ON hitl_requests(status, expires_at);

			CREATE TABLE conflicts (
				id VARCHAR(64) PRIMARY KEY,
				project_id VARCHAR(64) NOT NULL,
				workflow_id VARCHAR(64),
				task_id VARCHAR(64),
				conflict_type VARCHAR(40) NOT NULL,
				severity VARCHAR(20) NOT NULL,
				status VARCHAR(20) NOT NULL,
				description TEXT,
				participants JSONB NOT NULL,
				evidence JSONB,
				resolution_attempts JSONB,
				final_resolution JSONB,
				detection_confidence DOUBLE PRECISION NOT NULL,
				detected_at TIMESTAMP WITH TIME ZONE NOT NULL,
				review_started_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_conflicts_project_id ON conflicts(project_id);

			CREATE TABLE tasks (
				id VARCHAR(64) PRIMARY KEY,
				project_id VARCHAR(64) NOT NULL,
				execution_id VARCHAR(64),
				agent_type VARCHAR(100) NOT NULL,
				title VARCHAR(255),
				instructions TEXT,
				status VARCHAR(20) NOT NULL,
				completion_tags JSONB,
				required_artifact_types JSONB,
				output JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_tasks_project_id ON tasks(project_id);

			CREATE TABLE artifacts (
				id VARCHAR(64) PRIMARY KEY,
				project_id VARCHAR(64) NOT NULL,
				source_agent VARCHAR(100) NOT NULL,
				artifact_type VARCHAR(100) NOT NULL,
				content TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_artifacts_project_type ON artifacts(project_id, artifact_type);

			CREATE TABLE projects (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT,
				current_phase VARCHAR(100) NOT NULL,
				oversight_level VARCHAR(20) NOT NULL CHECK (oversight_level IN ('high', 'medium', 'low')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
	}
}
