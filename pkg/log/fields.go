package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUserID       = "user_id"
	FieldConnectionID = "connection_id"

	// Chat
	FieldConversationID  = "conversation_id"
	FieldMessageID       = "message_id"
	FieldClientMessageID = "client_message_id"
	FieldEventType       = "event_type"

	// Service
	FieldService  = "service"
	FieldInstance = "instance_id"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
