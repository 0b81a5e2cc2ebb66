package server

import (
	"encoding/json"
	"net/http"
)

// WOPI response header names (spec §4.6, §6).
const (
	hdrServerVersion       = "X-WOPI-ServerVersion"
	hdrMachineName         = "X-WOPI-MachineName"
	hdrLock                = "X-WOPI-Lock"
	hdrLockFailureReason   = "X-WOPI-LockFailureReason"
	hdrItemVersion         = "X-WOPI-ItemVersion"
	hdrOldLock             = "X-WOPI-OldLock"
	hdrInvalidFileName     = "X-WOPI-InvalidFileNameError"
	hdrEnumerationIncmplt  = "X-WOPI-EnumerationIncomplete"
	hdrRestrictedUseLink   = "X-WOPI-RestrictedUseLink"
	hdrPerfTrace           = "X-WOPI-PerfTrace"
)

// encoder writes the response headers and status/body every WOPI
// operation shares, so handlers only ever state the operation-specific
// parts of the contract.
type encoder struct {
	w             http.ResponseWriter
	serverVersion string
	machineName   string
}

func newEncoder(w http.ResponseWriter, serverVersion, machineName string) *encoder {
	return &encoder{w: w, serverVersion: serverVersion, machineName: machineName}
}

// base stamps the two headers every WOPI response carries.
func (e *encoder) base() {
	e.w.Header().Set(hdrServerVersion, e.serverVersion)
	e.w.Header().Set(hdrMachineName, e.machineName)
}

// Status writes base headers then a bare status line with no body.
func (e *encoder) Status(code int) {
	e.base()
	e.w.WriteHeader(code)
}

// JSON writes base headers, the JSON content type, then marshals body.
func (e *encoder) JSON(code int, body any) {
	e.base()
	e.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	e.w.WriteHeader(code)
	_ = json.NewEncoder(e.w).Encode(body)
}

// InvalidToken writes the 401 response every Access Gate failure shares.
func (e *encoder) InvalidToken() { e.Status(http.StatusUnauthorized) }

// FileUnknown writes the 404 response for an absent file, an id/folder
// mismatch, or a storage error treated as "access denied" (deliberate
// information hiding per spec §7).
func (e *encoder) FileUnknown() { e.Status(http.StatusNotFound) }

// Unsupported writes the 501 response for a missing mandatory header,
// an unrecognized operation, or unimplemented cobalt support.
func (e *encoder) Unsupported() { e.Status(http.StatusNotImplemented) }

// ServerError writes the 500 response for storage write failures and
// other unexpected I/O errors.
func (e *encoder) ServerError() { e.Status(http.StatusInternalServerError) }

// LockMismatch writes the 409 response every lock-table rejection
// shares: the current lock, and an optional failure reason.
func (e *encoder) LockMismatch(currentLock, reason string) {
	e.base()
	e.w.Header().Set(hdrLock, currentLock)
	if reason != "" {
		e.w.Header().Set(hdrLockFailureReason, reason)
	}
	e.w.WriteHeader(http.StatusConflict)
}

// SetItemVersion sets X-WOPI-ItemVersion ahead of a Status/JSON call.
func (e *encoder) SetItemVersion(version string) {
	e.w.Header().Set(hdrItemVersion, version)
}

// SetLock sets X-WOPI-Lock ahead of a Status/JSON call (GetLock's 200
// path, which always reports the current lock even on success).
func (e *encoder) SetLock(lock string) {
	e.w.Header().Set(hdrLock, lock)
}

// SetOldLock sets X-WOPI-OldLock ahead of a Status call (UnlockAndRelock's
// success path echoes the new lock string here).
func (e *encoder) SetOldLock(lock string) {
	e.w.Header().Set(hdrOldLock, lock)
}

// SetInvalidFileName sets X-WOPI-InvalidFileNameError ahead of a 400.
func (e *encoder) SetInvalidFileName(reason string) {
	e.w.Header().Set(hdrInvalidFileName, reason)
}

// SetEnumerationIncomplete sets X-WOPI-EnumerationIncomplete.
func (e *encoder) SetEnumerationIncomplete(v bool) {
	if v {
		e.w.Header().Set(hdrEnumerationIncmplt, "true")
	} else {
		e.w.Header().Set(hdrEnumerationIncmplt, "false")
	}
}

// SetRestrictedUseLink sets X-WOPI-RestrictedUseLink.
func (e *encoder) SetRestrictedUseLink(v string) {
	e.w.Header().Set(hdrRestrictedUseLink, v)
}

// SetPerfTrace sets X-WOPI-PerfTrace.
func (e *encoder) SetPerfTrace(v string) {
	e.w.Header().Set(hdrPerfTrace, v)
}
