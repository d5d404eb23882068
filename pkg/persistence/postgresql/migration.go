package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions. Nodes and edges live in JSONB documents so
			-- a published graph version can be snapshotted as one unit.
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL,
				graph_version INT NOT NULL DEFAULT 1,
				entry_node_id VARCHAR(255) NOT NULL,
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				variables JSONB,
				metadata JSONB,
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_owner ON workflows(owner);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			-- Immutable snapshots of published graph versions. Executions pin
			-- a (workflow_id, graph_version) pair against this table.
			CREATE TABLE workflow_versions (
				workflow_id VARCHAR(255) NOT NULL,
				graph_version INT NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workflow_id, graph_version)
			);
		`,
		2: `
			-- Execution state. The full scheduler state is one JSONB document;
			-- the indexed columns exist only for activator and list queries.
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				graph_version INT NOT NULL,
				status VARCHAR(50) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				document JSONB NOT NULL,
				next_retry_at TIMESTAMP WITH TIME ZONE,
				wake_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_next_retry_at ON executions(next_retry_at) WHERE next_retry_at IS NOT NULL;
			CREATE INDEX idx_executions_wake_at ON executions(wake_at) WHERE wake_at IS NOT NULL;
			CREATE INDEX idx_executions_created_at ON executions(created_at);

			-- Append-only timeline. Sequence is assigned per execution inside
			-- the transaction that writes the state transition.
			CREATE TABLE timeline_events (
				id VARCHAR(255) NOT NULL,
				execution_id VARCHAR(255) NOT NULL,
				sequence BIGINT NOT NULL,
				type VARCHAR(50) NOT NULL,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				node_id VARCHAR(255),
				duration_ms BIGINT,
				message TEXT,
				metadata JSONB,
				PRIMARY KEY (execution_id, sequence)
			);

			CREATE INDEX idx_timeline_events_execution_id ON timeline_events(execution_id);
			CREATE INDEX idx_timeline_events_type ON timeline_events(type);
		`,
	}
}
