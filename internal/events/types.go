package events

// Table name constants. Invalidation events are keyed by the table a write
// touched; subscribers re-run their query when any table they depend on
// changes.
const (
	TableUsers             = "users"
	TableUserSettings      = "user_settings"
	TableChats             = "chats"
	TableMessages          = "messages"
	TableReactions         = "reactions"
	TableQueuedMessages    = "queued_messages"
	TableRegisteredDevices = "registered_devices"
	TableSecurityEvents    = "security_events"
	TableSyncLogs          = "sync_logs"
	TablePerfMetrics       = "performance_metrics"
	TablePerfAlerts        = "performance_alerts"
)

// Operation kinds carried on change events.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)
