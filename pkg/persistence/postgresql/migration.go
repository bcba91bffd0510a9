package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE definitions (
				id UUID PRIMARY KEY,
				key VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL,
				category VARCHAR(100),
				tags JSONB,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				is_default BOOLEAN NOT NULL DEFAULT FALSE,
				usage_count INTEGER NOT NULL DEFAULT 0,
				lanes JSONB NOT NULL,
				steps JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (key, version)
			);

			CREATE INDEX idx_definitions_key ON definitions(key);
			CREATE INDEX idx_definitions_category ON definitions(category);

			CREATE TABLE instances (
				id UUID PRIMARY KEY,
				definition_id UUID NOT NULL REFERENCES definitions(id),
				definition_key VARCHAR(255) NOT NULL,
				definition_version INTEGER NOT NULL,
				business_ref_kind VARCHAR(100),
				business_ref_id VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'completed', 'canceled')),
				current_step_key VARCHAR(255),
				context JSONB,
				started_by_user_id VARCHAR(255),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE,
				cancel_reason TEXT
			);

			CREATE INDEX idx_instances_status ON instances(status);
			CREATE INDEX idx_instances_business_ref ON instances(business_ref_kind, business_ref_id);
			CREATE INDEX idx_instances_definition_key ON instances(definition_key);

			CREATE TABLE step_instances (
				id UUID PRIMARY KEY,
				instance_id UUID NOT NULL REFERENCES instances(id),
				step_key VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'active', 'completed', 'failed', 'skipped')),
				assigned_to_user_id VARCHAR(255),
				completed_by_user_id VARCHAR(255),
				gateway_decision VARCHAR(255),
				output JSONB,
				notes TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_step_instances_instance ON step_instances(instance_id);
			CREATE INDEX idx_step_instances_status ON step_instances(status);
			CREATE INDEX idx_step_instances_assignee ON step_instances(assigned_to_user_id) WHERE status = 'active';

			CREATE TABLE process_events (
				id UUID PRIMARY KEY,
				instance_id UUID NOT NULL,
				step_key VARCHAR(255),
				type VARCHAR(100) NOT NULL,
				actor_id VARCHAR(255),
				payload JSONB,
				occurred_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_process_events_instance ON process_events(instance_id, occurred_at);
			CREATE INDEX idx_process_events_type ON process_events(type, occurred_at);

			CREATE TABLE automation_rules (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				trigger VARCHAR(50) NOT NULL,
				category VARCHAR(50),
				step_keys JSONB,
				lane_keys JSONB,
				conditions JSONB,
				expression TEXT,
				actions JSONB NOT NULL,
				priority INTEGER NOT NULL DEFAULT 0,
				enabled BOOLEAN NOT NULL DEFAULT TRUE,
				is_system BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_automation_rules_trigger ON automation_rules(trigger) WHERE enabled;

			CREATE TABLE sla_rules (
				id UUID PRIMARY KEY,
				definition_key VARCHAR(255) NOT NULL,
				step_key VARCHAR(255) NOT NULL,
				warning_after_minutes INTEGER NOT NULL,
				critical_after_minutes INTEGER NOT NULL,
				escalate_to_user_id VARCHAR(255),
				repeat_after_minutes INTEGER NOT NULL DEFAULT 0,
				enabled BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (definition_key, step_key)
			);
		`,
	}
}
