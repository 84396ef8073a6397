package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				decider VARCHAR(255) NOT NULL,
				subject JSONB NOT NULL,
				subject_key TEXT NOT NULL,
				complete BOOLEAN NOT NULL DEFAULT false,
				paused BOOLEAN NOT NULL DEFAULT false,
				migrated BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_workflows_identity ON workflows(name, subject_key, user_id);
			CREATE INDEX idx_workflows_user_id ON workflows(user_id);
			CREATE INDEX idx_workflows_decider ON workflows(decider);

			CREATE TABLE nodes (
				id UUID PRIMARY KEY,
				seq BIGSERIAL NOT NULL,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				user_id VARCHAR(255) NOT NULL,
				parent_id UUID REFERENCES nodes(id),
				name VARCHAR(255) NOT NULL,
				mode VARCHAR(50) NOT NULL CHECK (mode IN ('blocking', 'non_blocking')),
				current_server_status VARCHAR(50) NOT NULL,
				current_client_status VARCHAR(50) NOT NULL,
				fires_at TIMESTAMP WITH TIME ZONE NOT NULL,
				link_id UUID,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_nodes_workflow_id ON nodes(workflow_id, seq);
			CREATE INDEX idx_nodes_parent_id ON nodes(parent_id);
			CREATE INDEX idx_nodes_server_status_fires_at ON nodes(current_server_status, fires_at);

			CREATE TABLE client_node_details (
				node_id UUID PRIMARY KEY REFERENCES nodes(id),
				metadata JSONB NOT NULL DEFAULT '{}',
				data JSONB NOT NULL DEFAULT '{}'
			);

			CREATE TABLE node_details (
				node_id UUID PRIMARY KEY REFERENCES nodes(id),
				legacy_type VARCHAR(50) NOT NULL,
				retry_interval_ms BIGINT NOT NULL,
				retries_remaining INTEGER NOT NULL CHECK (retries_remaining >= 0),
				timeout_ms BIGINT NOT NULL
			);

			CREATE TABLE status_changes (
				id BIGSERIAL PRIMARY KEY,
				node_id UUID NOT NULL REFERENCES nodes(id),
				status_type VARCHAR(20) NOT NULL,
				from_status VARCHAR(50) NOT NULL,
				to_status VARCHAR(50) NOT NULL,
				response JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_status_changes_node_id ON status_changes(node_id, id);
		`,
		2: `
			CREATE TABLE watchdogs (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				subject_type VARCHAR(50) NOT NULL,
				subject_id VARCHAR(255) NOT NULL,
				duration_ms BIGINT NOT NULL,
				timer_id VARCHAR(255) NOT NULL,
				armed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_watchdogs_identity ON watchdogs(name, subject_type, subject_id);
			CREATE INDEX idx_watchdogs_subject ON watchdogs(subject_type, subject_id);
		`,
	}
}
