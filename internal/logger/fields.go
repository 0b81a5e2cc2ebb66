package logger

// Standard field keys for structured logging. Keep log statements
// consistent across handlers so aggregation and querying don't have to
// deal with synonyms.
const (
	KeyRequestID = "request_id"
	KeyOperation = "operation" // WOPI operation kind
	KeyFileID    = "file_id"
	KeyUser      = "user"
	KeyClientIP  = "client_ip"

	KeyMethod = "method"
	KeyPath   = "path"
	KeyStatus = "status"

	KeyLock        = "lock"
	KeyOldLock     = "old_lock"
	KeyLockReason  = "lock_failure_reason"
	KeyItemVersion = "item_version"

	KeyError    = "error"
	KeyDuration = "duration_ms"
	KeyBytes    = "bytes"
)
