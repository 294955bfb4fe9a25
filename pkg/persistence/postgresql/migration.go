package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflow_definitions table
			CREATE TABLE workflow_definitions (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('draft', 'active', 'paused')),
				steps JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_definitions_trigger_status ON workflow_definitions(trigger_type, status);

			-- Create contacts table
			CREATE TABLE contacts (
				id VARCHAR(255) PRIMARY KEY,
				email VARCHAR(320) NOT NULL,
				first_name VARCHAR(255),
				last_name VARCHAR(255),
				subscription_status VARCHAR(50) NOT NULL,
				attributes JSONB DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_contacts_email ON contacts(email);
		`,
		2: `
			-- Create enrollments table
			CREATE TABLE enrollments (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				contact_id VARCHAR(255) NOT NULL,
				current_step_index INTEGER NOT NULL DEFAULT 0,
				status VARCHAR(20) NOT NULL CHECK (status IN ('active', 'completed', 'exited', 'failed')),
				trigger_data JSONB DEFAULT '{}',
				enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_enrollments_workflow_status ON enrollments(workflow_id, status);
			CREATE INDEX idx_enrollments_contact ON enrollments(contact_id);

			-- At most one active enrollment per workflow and contact
			CREATE UNIQUE INDEX idx_enrollments_active_unique
				ON enrollments(workflow_id, contact_id)
				WHERE status = 'active';
		`,
	}
}
