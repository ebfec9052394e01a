// Package schema holds the idempotent table and index definitions applied at startup.
package schema

// TableDefinitions are applied in order. Results and deliveries reference
// their parent rows and are removed with them.
var TableDefinitions = []string{
	`CREATE TABLE IF NOT EXISTS calculated_columns (
		id UUID PRIMARY KEY,
		owner_id VARCHAR(255) NOT NULL,
		column_name VARCHAR(255) NOT NULL,
		formula TEXT NOT NULL,
		formula_type VARCHAR(20) NOT NULL DEFAULT 'calculation',
		result_type VARCHAR(20) NOT NULL DEFAULT 'text',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		cache_duration INTEGER,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (owner_id, column_name)
	)`,
	`CREATE TABLE IF NOT EXISTS calculated_results (
		column_id UUID NOT NULL REFERENCES calculated_columns(id) ON DELETE CASCADE,
		lead_id VARCHAR(255) NOT NULL,
		result_value JSONB,
		computed_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ,
		PRIMARY KEY (column_id, lead_id)
	)`,
	`CREATE TABLE IF NOT EXISTS webhooks (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		url TEXT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		secret_key TEXT NOT NULL,
		events TEXT[] NOT NULL DEFAULT '{}',
		headers JSONB NOT NULL DEFAULT '{}',
		transform_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		transform_script TEXT,
		retry_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		max_retries INTEGER NOT NULL DEFAULT 3,
		retry_delay INTEGER NOT NULL DEFAULT 60,
		timeout_ms INTEGER NOT NULL DEFAULT 30000,
		created_by VARCHAR(255) NOT NULL,
		last_triggered_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id UUID PRIMARY KEY,
		webhook_id UUID NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
		event_type VARCHAR(100) NOT NULL,
		payload JSONB NOT NULL,
		transformed_payload JSONB,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		response_status INTEGER,
		response_body TEXT,
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMPTZ,
		delivered_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_preferences (
		owner_id VARCHAR(255) NOT NULL,
		key VARCHAR(100) NOT NULL,
		value JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (owner_id, key)
	)`,
}

// IndexDefinitions back the hot queries: the retry poller's due scan, the
// delivery log listing, event fan-out and the expired result sweep.
var IndexDefinitions = []string{
	`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due ON webhook_deliveries (status, next_retry_at)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_webhook ON webhook_deliveries (webhook_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_webhooks_owner ON webhooks (created_by)`,
	`CREATE INDEX IF NOT EXISTS idx_webhooks_events ON webhooks USING GIN (events)`,
	`CREATE INDEX IF NOT EXISTS idx_calculated_results_expires ON calculated_results (expires_at) WHERE expires_at IS NOT NULL`,
}
