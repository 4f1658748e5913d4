package dynamo

// DynamoDB attribute names used in update and condition expressions.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldTenantID  = "tenant_id"
	fieldUpdatedAt = "updated_at"
)
