package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Watch session
	FieldSessionID    = "session_id"
	FieldSessionCode  = "session_code"
	FieldVideoID      = "video_id"
	FieldParticipants = "participants"

	// Sync engine
	FieldEngineState = "engine_state"
	FieldFeedStatus  = "feed_status"
	FieldDrift       = "drift_s"

	// Service
	FieldService = "service"
)
