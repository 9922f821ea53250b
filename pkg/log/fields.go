package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware/auth.go keys)
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Chat
	FieldTargetID    = "target_id"
	FieldPayloadType = "payload_type"
	FieldCloseCode   = "close_code"
	FieldReason      = "reason"
	FieldChannel     = "channel"
	FieldField       = "field"
	FieldSession     = "session_result"

	// Service
	FieldService  = "service"
	FieldInstance = "instance"

	// gRPC
	FieldGRPCMethod = "grpc_method"
	FieldGRPCCode   = "grpc_code"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
