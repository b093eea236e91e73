package wire

// Stable error codes. Part of the wire contract; never reassigned.
const (
	CodeJoinDenied            = "JOIN_DENIED"
	CodeJoinRoomFull          = "JOIN_ROOM_FULL"
	CodeJoinAlreadyJoined     = "JOIN_ALREADY_JOINED"
	CodeViewNotFound          = "VIEW_NOT_FOUND"
	CodeNotJoined             = "NOT_JOINED"
	CodeActionNotRegistered   = "ACTION_NOT_REGISTERED"
	CodeSlowConsumer          = "SLOW_CONSUMER"
	CodeLandTypeMismatch      = "LAND_TYPE_MISMATCH"
	CodeSchemaMismatch        = "SCHEMA_MISMATCH"
	CodeRecordVersionMismatch = "RECORD_VERSION_MISMATCH"
	CodeCancelled             = "CANCELLED"
	CodeBadEnvelope           = "BAD_ENVELOPE"
	CodeAdminDenied           = "ADMIN_DENIED"
	CodeUnknown               = "UNKNOWN_ERROR"
)
