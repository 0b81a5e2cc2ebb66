package wopi

import "net/http"

// Request is the classified, typed representation of an inbound WOPI
// HTTP request produced by ParseRequest. Handlers receive only this —
// never the raw *http.Request path — so handler code never compares URLs
// or the X-WOPI-Override header to decide which operation it runs; it
// reads only the per-operation headers its contract names.
type Request struct {
	Op Operation

	// ID is the FileId or FolderId extracted from the URL. Empty when
	// the route itself didn't resolve to an id (Op == OpNone).
	ID string

	// AccessToken is the access_token query parameter, copied verbatim.
	AccessToken string

	// Header is the inbound header collection; operation handlers read
	// the specific X-WOPI-* headers their contract calls for directly
	// from here (OldLock, RelativeTarget, RequestedName, ...).
	Header http.Header

	// Raw is the original request, kept for body access (PutFile,
	// PutUserInfo, AddActivities, PutRelativeFile all read the body)
	// and for building absolute URLs (PutRelativeFile, EnumerateChildren).
	Raw *http.Request
}

// Lock returns the X-WOPI-Lock header value.
func (r *Request) Lock() string { return r.Header.Get("X-WOPI-Lock") }

// OldLock returns the X-WOPI-OldLock header value.
func (r *Request) OldLock() string { return r.Header.Get("X-WOPI-OldLock") }

// HasOldLock reports whether X-WOPI-OldLock was present on the request at
// all (as opposed to present-but-empty); LOCK vs UnlockAndRelock hinges
// on presence, not value. http.Header canonicalizes header keys to
// "X-Wopi-Oldlock" as it parses the wire request.
func (r *Request) HasOldLock() bool {
	_, ok := r.Header["X-Wopi-Oldlock"]
	return ok
}
