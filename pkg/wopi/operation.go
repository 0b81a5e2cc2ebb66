// Package wopi implements the WOPI (Web Application Open Platform
// Interface) request dispatcher: URL parsing, operation classification,
// the lock/session state machine, and the per-operation response
// contract consumed by Office Online-class editors.
package wopi

// Operation identifies a classified WOPI request. The Request Parser
// (ParseRequest) is the only place that turns a URL, method, and
// X-WOPI-Override header into one of these; handler code never inspects
// raw headers to decide what it is doing.
type Operation int

const (
	// OpNone is returned when a request cannot be classified at all
	// (unknown POST override, or a route that matches nothing).
	OpNone Operation = iota

	OpCheckFileInfo
	OpGetFile
	OpPutFile
	OpLock
	OpUnlock
	OpRefreshLock
	OpUnlockAndRelock
	OpGetLock
	OpPutRelativeFile
	OpDeleteFile
	OpRenameFile
	OpReadSecureStore
	OpGetRestrictedLink
	OpRevokeRestrictedLink
	OpGetShareUrl
	OpPutUserInfo
	OpAddActivities
	OpExecuteCobaltRequest
	OpEnumerateAncestors
	OpCheckFolderInfo
	OpEnumerateChildren
)

// String renders the operation name as it appears in log lines and
// metrics labels (e.g. "PutRelativeFile"), not the X-WOPI-Override
// header value (e.g. "PUT_RELATIVE").
func (o Operation) String() string {
	switch o {
	case OpCheckFileInfo:
		return "CheckFileInfo"
	case OpGetFile:
		return "GetFile"
	case OpPutFile:
		return "PutFile"
	case OpLock:
		return "Lock"
	case OpUnlock:
		return "Unlock"
	case OpRefreshLock:
		return "RefreshLock"
	case OpUnlockAndRelock:
		return "UnlockAndRelock"
	case OpGetLock:
		return "GetLock"
	case OpPutRelativeFile:
		return "PutRelativeFile"
	case OpDeleteFile:
		return "DeleteFile"
	case OpRenameFile:
		return "RenameFile"
	case OpReadSecureStore:
		return "ReadSecureStore"
	case OpGetRestrictedLink:
		return "GetRestrictedLink"
	case OpRevokeRestrictedLink:
		return "RevokeRestrictedLink"
	case OpGetShareUrl:
		return "GetShareUrl"
	case OpPutUserInfo:
		return "PutUserInfo"
	case OpAddActivities:
		return "AddActivities"
	case OpExecuteCobaltRequest:
		return "ExecuteCobaltRequest"
	case OpEnumerateAncestors:
		return "EnumerateAncestors"
	case OpCheckFolderInfo:
		return "CheckFolderInfo"
	case OpEnumerateChildren:
		return "EnumerateChildren"
	default:
		return "None"
	}
}

// RequiresWrite reports whether the Access Gate must require write
// permission for this operation, rather than read being sufficient.
func (o Operation) RequiresWrite() bool {
	switch o {
	case OpPutFile, OpLock, OpUnlock, OpRefreshLock, OpUnlockAndRelock,
		OpPutRelativeFile, OpDeleteFile, OpRenameFile,
		OpRevokeRestrictedLink, OpAddActivities:
		return true
	default:
		return false
	}
}
