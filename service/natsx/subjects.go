package natsx

import "UProject/module/chat/model"

// Cross-unit subjects follow unit.<id>.c2c.<op>.
func UnitSubject(dest model.UnitID, op string) string {
	return "unit." + string(dest) + ".c2c." + op
}

// Cross-unit operation names.
const (
	OpNotifyEvents = "notify_events"
	OpMemberSync   = "member_sync"
	OpTransfer     = "transfer"
	OpDeleteFiles  = "delete_files"
)
