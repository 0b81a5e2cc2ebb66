package wopi

import (
	"net/http"
	"net/url"
	"strings"
)

// ParseRequest maps an inbound HTTP request to a classified Request.
// It implements the URL grammar and POST-override table of the WOPI
// request parser: path-segment-exact matching, percent-decoding of the
// id segment, and header-driven sub-typing of POST /files/{id}.
func ParseRequest(r *http.Request) *Request {
	req := &Request{
		Op:          OpNone,
		AccessToken: r.URL.Query().Get("access_token"),
		Header:      r.Header,
		Raw:         r,
	}

	segments := splitPath(r.URL.Path)

	switch {
	case len(segments) == 3 && segments[0] == "wopi" && segments[1] == "files":
		req.ID = decodeFileID(segments[2])
		req.Op = classifyFilesRoot(r)

	case len(segments) == 4 && segments[0] == "wopi" && segments[1] == "files" && segments[3] == "contents":
		req.ID = decodeFileID(segments[2])
		if r.Method == http.MethodGet {
			req.Op = OpGetFile
		} else if r.Method == http.MethodPost {
			req.Op = OpPutFile
		}

	case len(segments) == 4 && segments[0] == "wopi" && segments[1] == "files" && segments[3] == "ancestry":
		req.ID = decodeFileID(segments[2])
		req.Op = OpEnumerateAncestors

	case len(segments) == 3 && segments[0] == "wopi" && segments[1] == "folders":
		req.ID = decodeFolderID(segments[2])
		req.Op = OpCheckFolderInfo

	case len(segments) == 4 && segments[0] == "wopi" && segments[1] == "folders" && segments[3] == "children":
		req.ID = decodeFolderID(segments[2])
		req.Op = OpEnumerateChildren
	}

	return req
}

// splitPath breaks a URL path into non-empty segments.
func splitPath(p string) []string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// decodeFileID percent-decodes a FileId path segment and lower-cases it
// per spec §3: FileId "is used as both the storage key and the lock-table
// key" and "normalized to lower case at parse time".
func decodeFileID(segment string) string {
	decoded, err := url.PathUnescape(segment)
	if err != nil {
		decoded = segment
	}
	return strings.ToLower(decoded)
}

// decodeFolderID percent-decodes a FolderId path segment. Unlike FileId
// it is "not lower-cased in the source" — callers that need to compare
// it against the configured root directory name do so case-insensitively.
func decodeFolderID(segment string) string {
	decoded, err := url.PathUnescape(segment)
	if err != nil {
		decoded = segment
	}
	return decoded
}

// classifyFilesRoot decides the operation for /wopi/files/{id}: a plain
// GET is CheckFileInfo, a POST is sub-typed by X-WOPI-Override.
func classifyFilesRoot(r *http.Request) Operation {
	if r.Method == http.MethodGet {
		return OpCheckFileInfo
	}
	if r.Method != http.MethodPost {
		return OpNone
	}

	switch strings.ToUpper(r.Header.Get("X-WOPI-Override")) {
	case "LOCK":
		if _, ok := r.Header["X-Wopi-Oldlock"]; ok {
			return OpUnlockAndRelock
		}
		return OpLock
	case "UNLOCK":
		return OpUnlock
	case "REFRESH_LOCK":
		return OpRefreshLock
	case "GET_LOCK":
		return OpGetLock
	case "PUT_RELATIVE":
		return OpPutRelativeFile
	case "DELETE":
		return OpDeleteFile
	case "RENAME_FILE":
		return OpRenameFile
	case "READ_SECURE_STORE":
		return OpReadSecureStore
	case "GET_RESTRICTED_LINK":
		return OpGetRestrictedLink
	case "REVOKE_RESTRICTED_LINK":
		return OpRevokeRestrictedLink
	case "GET_SHARE_URL":
		return OpGetShareUrl
	case "PUT_USER_INFO":
		return OpPutUserInfo
	case "ADD_ACTIVITIES":
		return OpAddActivities
	case "COBALT":
		return OpExecuteCobaltRequest
	default:
		return OpNone
	}
}
