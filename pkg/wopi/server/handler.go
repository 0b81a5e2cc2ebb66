package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/YananZhang666/wopihost/internal/logger"
	"github.com/YananZhang666/wopihost/pkg/wopi"
)

// handler dispatches classified requests to their operation-specific
// implementation (C5), after running the Proof-Key Validator (C7) and
// the Access Gate (C2).
type handler struct {
	core *Core
}

// statusWriter captures the status code written so the caller can record
// it after ServeHTTP-style handling without the encoder needing to
// expose it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (h *handler) dispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	req := wopi.ParseRequest(r)
	enc := newEncoder(sw, h.core.ServerVersion, h.core.MachineName)
	ctx := r.Context()

	logger.DebugCtx(ctx, "wopi operation classified", "operation", req.Op.String(), "file_id", req.ID)

	if !h.core.ProofKey.Validate(r) {
		logger.ErrorCtx(ctx, "proof key validation failed", "operation", req.Op.String(), "file_id", req.ID)
		enc.ServerError()
		h.core.observe(req.Op.String(), "500", time.Since(start))
		return
	}

	h.route(enc, req)
	h.core.observe(req.Op.String(), strconv.Itoa(sw.status), time.Since(start))
}

// route implements the data flow of spec §4.4: run the Access Gate
// (except for the operations that don't require a fully resolved file
// first), confirm the file exists, then execute.
func (h *handler) route(enc *encoder, req *wopi.Request) {
	switch req.Op {
	case wopi.OpCheckFileInfo:
		h.checkFileInfo(enc, req)
	case wopi.OpGetFile:
		h.getFile(enc, req)
	case wopi.OpPutFile:
		h.putFile(enc, req)
	case wopi.OpLock:
		h.lock(enc, req)
	case wopi.OpUnlock:
		h.unlock(enc, req)
	case wopi.OpRefreshLock:
		h.refreshLock(enc, req)
	case wopi.OpUnlockAndRelock:
		h.unlockAndRelock(enc, req)
	case wopi.OpGetLock:
		h.getLock(enc, req)
	case wopi.OpPutRelativeFile:
		h.putRelativeFile(enc, req)
	case wopi.OpDeleteFile:
		h.deleteFile(enc, req)
	case wopi.OpRenameFile:
		h.renameFile(enc, req)
	case wopi.OpGetShareUrl:
		h.getShareUrl(enc, req)
	case wopi.OpPutUserInfo:
		h.putUserInfo(enc, req)
	case wopi.OpGetRestrictedLink:
		h.getRestrictedLink(enc, req)
	case wopi.OpRevokeRestrictedLink:
		h.revokeRestrictedLink(enc, req)
	case wopi.OpReadSecureStore:
		h.readSecureStore(enc, req)
	case wopi.OpCheckFolderInfo:
		h.checkFolderInfo(enc, req)
	case wopi.OpEnumerateAncestors:
		h.enumerateAncestors(enc, req)
	case wopi.OpEnumerateChildren:
		h.enumerateChildren(enc, req)
	case wopi.OpAddActivities:
		h.addActivities(enc, req)
	case wopi.OpExecuteCobaltRequest:
		logger.WarnCtx(req.Raw.Context(), "unsupported operation requested", "operation", req.Op.String(), "file_id", req.ID)
		enc.Unsupported()
	default:
		logger.ErrorCtx(req.Raw.Context(), "unclassified request reached dispatch", "operation", req.Op.String(), "file_id", req.ID)
		enc.Status(http.StatusInternalServerError)
	}
}

// gate runs the Access Gate and, on success, confirms the file exists.
// It writes the 401/404 response itself and returns ok=false when the
// handler should stop.
func (h *handler) gate(enc *encoder, req *wopi.Request, writeRequired bool) (user string, ok bool) {
	ctx := req.Raw.Context()
	decision := h.core.Gate.Check(req.AccessToken, req.ID, writeRequired)
	if !decision.Allowed {
		logger.WarnCtx(ctx, "access gate rejected request", "operation", req.Op.String(), "file_id", req.ID)
		enc.InvalidToken()
		return "", false
	}
	if !h.core.Storage.Exists(ctx, req.ID) {
		logger.WarnCtx(ctx, "file not found", "operation", req.Op.String(), "file_id", req.ID)
		enc.FileUnknown()
		return "", false
	}
	return decision.User, true
}

// gateFolder runs only the Access Gate, without the file-existence check
// gate performs: folder operations confirm the id names the configured
// root directory before this is ever called.
func (h *handler) gateFolder(enc *encoder, req *wopi.Request, writeRequired bool) (user string, ok bool) {
	decision := h.core.Gate.Check(req.AccessToken, req.ID, writeRequired)
	if !decision.Allowed {
		logger.WarnCtx(req.Raw.Context(), "access gate rejected request", "operation", req.Op.String(), "file_id", req.ID)
		enc.InvalidToken()
		return "", false
	}
	return decision.User, true
}

func (h *handler) checkFileInfo(enc *encoder, req *wopi.Request) {
	user, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	ctx := req.Raw.Context()

	size, err := h.core.Storage.Size(ctx, req.ID)
	if err != nil {
		logger.WarnCtx(ctx, "size lookup failed", "operation", req.Op.String(), "file_id", req.ID, "error", err)
		enc.FileUnknown()
		return
	}
	version, err := h.core.Storage.Version(ctx, req.ID)
	if err != nil {
		logger.ErrorCtx(ctx, "version lookup failed", "operation", req.Op.String(), "file_id", req.ID, "error", err)
		enc.ServerError()
		return
	}
	readOnly := h.core.Storage.ReadOnly(ctx, req.ID)
	id := h.core.identity(user)

	enc.JSON(http.StatusOK, map[string]any{
		"BaseFileName":      req.ID,
		"Size":              int32(size),
		"Version":           version,
		"OwnerId":           id.OwnerID,
		"UserId":            user,
		"UserFriendlyName":  id.UserFriendlyName,
		"UserPrincipalName": id.UserPrincipalName,
		"FileExtension":     path.Ext(req.ID),
		"ReadOnly":          readOnly,
		"UserCanWrite":      !readOnly,

		"SupportsLocks":               true,
		"SupportsUpdate":              true,
		"SupportsGetLock":             true,
		"SupportsExtendedLockLength":  true,
		"SupportsRename":              true,
		"UserCanRename":               !readOnly,
		"SupportsFolders":             true,
		"SupportsSecureStore":         true,
		"SupportsScenarioLinks":       true,
		"SupportsUserInfo":            true,
		"SupportsAddActivities":       true,
		"UserCanNotWriteRelative":     false,
		"SupportedShareUrlTypes":      []string{"ReadOnly", "ReadWrite"},

		"BreadcrumbBrandName":  "wopihost",
		"BreadcrumbFolderName": h.core.RootName,
		"BreadcrumbDocName":    req.ID,

		"UserInfo": h.core.UserInfo.Get(user),
	})
}

func (h *handler) getFile(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	rc, err := h.core.Storage.Open(req.Raw.Context(), req.ID)
	if err != nil {
		logger.WarnCtx(req.Raw.Context(), "open failed", "operation", req.Op.String(), "file_id", req.ID, "error", err)
		enc.FileUnknown()
		return
	}
	defer rc.Close()

	enc.base()
	enc.w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(enc.w, rc)
}

func (h *handler) putFile(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	ctx := req.Raw.Context()
	now := h.core.now()
	newLock := req.Lock()

	currentLock, locked := h.core.Locks.Peek(req.ID, now)
	if locked && currentLock != newLock {
		logger.WarnCtx(ctx, "lock mismatch", "operation", req.Op.String(), "file_id", req.ID)
		enc.LockMismatch(currentLock, "")
		return
	}

	version, err := h.core.Storage.Upload(ctx, req.ID, req.Raw.Body)
	if err != nil {
		logger.ErrorCtx(ctx, "storage upload failed", "operation", req.Op.String(), "file_id", req.ID, "error", err)
		enc.ServerError()
		return
	}
	enc.SetItemVersion(version)
	enc.Status(http.StatusOK)
}

func (h *handler) deleteFile(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	ctx := req.Raw.Context()
	now := h.core.now()
	if currentLock, locked := h.core.Locks.Peek(req.ID, now); locked {
		logger.WarnCtx(ctx, "lock mismatch", "operation", req.Op.String(), "file_id", req.ID)
		enc.LockMismatch(currentLock, "")
		return
	}

	if err := h.core.Storage.Delete(ctx, req.ID); err != nil {
		logger.WarnCtx(ctx, "delete failed", "operation", req.Op.String(), "file_id", req.ID, "error", err)
		enc.FileUnknown()
		return
	}
	h.core.Locks.Remove(req.ID)
	enc.Status(http.StatusOK)
}

func (h *handler) renameFile(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	ctx := req.Raw.Context()
	now := h.core.now()
	lockStr := req.Lock()
	if currentLock, locked := h.core.Locks.Peek(req.ID, now); locked && currentLock != lockStr {
		logger.WarnCtx(ctx, "lock mismatch", "operation", req.Op.String(), "file_id", req.ID)
		enc.LockMismatch(currentLock, "")
		return
	}

	requestedName := decodeHeader(req.Header.Get("X-WOPI-RequestedName"))
	finalName, ok, err := h.core.Storage.Rename(ctx, req.ID, requestedName)
	if err != nil {
		logger.WarnCtx(ctx, "rename failed", "operation", req.Op.String(), "file_id", req.ID, "error", err)
		enc.FileUnknown()
		return
	}
	if !ok {
		enc.SetInvalidFileName("Name already exists")
		enc.Status(http.StatusBadRequest)
		return
	}

	enc.JSON(http.StatusOK, map[string]any{"Name": finalName})
}

func (h *handler) lock(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	ctx := req.Raw.Context()
	res := h.core.Locks.Lock(req.ID, req.Lock(), h.core.now())
	if !res.OK {
		logger.WarnCtx(ctx, "lock mismatch", "operation", req.Op.String(), "file_id", req.ID, "reason", res.Reason)
		enc.LockMismatch(res.CurrentLock, res.Reason)
		return
	}
	logger.InfoCtx(ctx, "lock acquired", "operation", req.Op.String(), "file_id", req.ID)
	version, err := h.core.Storage.Version(ctx, req.ID)
	if err == nil {
		enc.SetItemVersion(version)
	}
	enc.Status(http.StatusOK)
}

func (h *handler) unlock(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	ctx := req.Raw.Context()
	res := h.core.Locks.Unlock(req.ID, req.Lock(), h.core.now())
	if !res.OK {
		logger.WarnCtx(ctx, "lock mismatch", "operation", req.Op.String(), "file_id", req.ID, "reason", res.Reason)
		enc.LockMismatch(res.CurrentLock, res.Reason)
		return
	}
	logger.InfoCtx(ctx, "lock released", "operation", req.Op.String(), "file_id", req.ID)
	version, err := h.core.Storage.Version(ctx, req.ID)
	if err == nil {
		enc.SetItemVersion(version)
	}
	enc.Status(http.StatusOK)
}

func (h *handler) refreshLock(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	ctx := req.Raw.Context()
	res := h.core.Locks.RefreshLock(req.ID, req.Lock(), h.core.now())
	if !res.OK {
		logger.WarnCtx(ctx, "lock mismatch", "operation", req.Op.String(), "file_id", req.ID, "reason", res.Reason)
		enc.LockMismatch(res.CurrentLock, res.Reason)
		return
	}
	logger.DebugCtx(ctx, "lock refreshed", "operation", req.Op.String(), "file_id", req.ID)
	enc.Status(http.StatusOK)
}

func (h *handler) unlockAndRelock(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	ctx := req.Raw.Context()
	res := h.core.Locks.UnlockAndRelock(req.ID, req.OldLock(), req.Lock(), h.core.now())
	if !res.OK {
		logger.WarnCtx(ctx, "lock mismatch", "operation", req.Op.String(), "file_id", req.ID, "reason", res.Reason)
		enc.LockMismatch(res.CurrentLock, res.Reason)
		return
	}
	logger.InfoCtx(ctx, "lock transitioned", "operation", req.Op.String(), "file_id", req.ID)
	enc.SetOldLock(res.OldLockEcho)
	enc.Status(http.StatusOK)
}

func (h *handler) getLock(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	res := h.core.Locks.GetLock(req.ID, h.core.now())
	enc.SetLock(res.CurrentLock)
	enc.Status(http.StatusOK)
}

func (h *handler) putUserInfo(enc *encoder, req *wopi.Request) {
	user, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	ctx := req.Raw.Context()
	body, err := io.ReadAll(req.Raw.Body)
	if err != nil {
		logger.ErrorCtx(ctx, "request body read failed", "operation", req.Op.String(), "file_id", req.ID, "error", err)
		enc.ServerError()
		return
	}
	h.core.UserInfo.Put(user, string(body))
	enc.Status(http.StatusOK)
}

func (h *handler) getShareUrl(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	urlType := req.Header.Get("X-WOPI-UrlType")
	if urlType != "ReadOnly" && urlType != "ReadWrite" {
		logger.WarnCtx(req.Raw.Context(), "unsupported url type", "operation", req.Op.String(), "file_id", req.ID)
		enc.Unsupported()
		return
	}
	enc.JSON(http.StatusOK, map[string]any{
		"ShareUrl": fmt.Sprintf("%s/wopi/files/%s?share=%s", requestAuthority(req.Raw), req.ID, strings.ToLower(urlType)),
	})
}

func (h *handler) getRestrictedLink(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	if req.Header.Get("X-WOPI-RestrictedUseLink") != "FORMS" {
		logger.WarnCtx(req.Raw.Context(), "unsupported restricted link type", "operation", req.Op.String(), "file_id", req.ID)
		enc.Unsupported()
		return
	}
	if h.core.RevokedLinks.IsRevoked(req.ID) {
		enc.SetRestrictedUseLink("")
		enc.Status(http.StatusOK)
		return
	}
	enc.SetRestrictedUseLink(fmt.Sprintf("http://officeserver4/restricted/%s", req.ID))
	enc.Status(http.StatusOK)
}

func (h *handler) revokeRestrictedLink(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	if req.Header.Get("X-WOPI-RestrictedUseLink") != "FORMS" {
		logger.WarnCtx(req.Raw.Context(), "unsupported restricted link type", "operation", req.Op.String(), "file_id", req.ID)
		enc.Unsupported()
		return
	}
	h.core.RevokedLinks.Revoke(req.ID)
	logger.InfoCtx(req.Raw.Context(), "restricted link revoked", "operation", req.Op.String(), "file_id", req.ID)
	enc.Status(http.StatusOK)
}

func (h *handler) readSecureStore(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	appID := req.Header.Get("X-WOPI-ApplicationId")
	if appID == "" {
		logger.WarnCtx(req.Raw.Context(), "missing X-WOPI-ApplicationId", "operation", req.Op.String(), "file_id", req.ID)
		enc.Unsupported()
		return
	}
	if truthy(req.Header.Get("X-WOPI-PerfTraceRequested")) {
		enc.SetPerfTrace("0ms")
	}
	enc.JSON(http.StatusOK, map[string]any{
		"UserName":             "",
		"Password":             "",
		"IsWindowsCredentials": false,
		"IsGroup":              false,
	})
}

func (h *handler) checkFolderInfo(enc *encoder, req *wopi.Request) {
	if !strings.EqualFold(req.ID, h.core.RootName) {
		logger.WarnCtx(req.Raw.Context(), "folder not found", "operation", req.Op.String(), "file_id", req.ID)
		enc.FileUnknown()
		return
	}
	_, ok := h.gateFolder(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	enc.JSON(http.StatusOK, map[string]any{
		"FolderName": h.core.RootName,
		"OwnerId":    "wopihost",
	})
}

func (h *handler) enumerateAncestors(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	enc.SetEnumerationIncomplete(true)
	enc.JSON(http.StatusOK, map[string]any{
		"AncestorsWithRootFirst": []map[string]any{
			{"Name": h.core.RootName, "Url": fmt.Sprintf("%s/wopi/folders/%s", requestAuthority(req.Raw), h.core.RootName)},
		},
	})
}

func (h *handler) enumerateChildren(enc *encoder, req *wopi.Request) {
	if !strings.EqualFold(req.ID, h.core.RootName) {
		logger.WarnCtx(req.Raw.Context(), "folder not found", "operation", req.Op.String(), "file_id", req.ID)
		enc.FileUnknown()
		return
	}
	user, ok := h.gateFolder(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}

	ctx := req.Raw.Context()
	root, err := h.core.Storage.RootDirectory(ctx)
	if err != nil {
		logger.ErrorCtx(ctx, "root directory listing failed", "operation", req.Op.String(), "file_id", req.ID, "error", err)
		enc.ServerError()
		return
	}

	children := make([]map[string]any, 0, len(root.Children))
	for _, c := range root.Children {
		token, err := h.core.Minter.Mint(user, c.Name)
		if err != nil {
			logger.ErrorCtx(ctx, "access token mint failed", "operation", req.Op.String(), "file_id", req.ID, "error", err)
			enc.ServerError()
			return
		}
		children = append(children, map[string]any{
			"Name":    c.Name,
			"Version": c.Version,
			"Url":     childURL(req.Raw, c.Name, token),
		})
	}

	enc.JSON(http.StatusOK, map[string]any{"Children": children})
}

type activity struct {
	Type      string `json:"Type"`
	ID        string `json:"Id"`
	Timestamp string `json:"Timestamp"`
	Data      struct {
		ContentID     string `json:"ContentId"`
		ContentAction string `json:"ContentAction"`
	} `json:"Data"`
}

func (h *handler) addActivities(enc *encoder, req *wopi.Request) {
	_, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}

	var body struct {
		Activities []activity `json:"Activities"`
	}
	if err := json.NewDecoder(req.Raw.Body).Decode(&body); err != nil {
		logger.WarnCtx(req.Raw.Context(), "activities payload decode failed", "operation", req.Op.String(), "file_id", req.ID, "error", err)
		enc.Status(http.StatusBadRequest)
		return
	}

	responses := make([]map[string]any, 0, len(body.Activities))
	for _, a := range body.Activities {
		responses = append(responses, map[string]any{
			"Id":      a.ID,
			"Status":  0,
			"Message": "",
		})
	}
	enc.JSON(http.StatusOK, map[string]any{"ActivityResponses": responses})
}

func (h *handler) putRelativeFile(enc *encoder, req *wopi.Request) {
	user, ok := h.gate(enc, req, req.Op.RequiresWrite())
	if !ok {
		return
	}
	ctx := req.Raw.Context()

	suggested := decodeHeader(req.Header.Get("X-WOPI-SuggestedTarget"))
	relative := decodeHeader(req.Header.Get("X-WOPI-RelativeTarget"))
	if (suggested == "" && relative == "") || (suggested != "" && relative != "") {
		logger.WarnCtx(ctx, "invalid target headers", "operation", req.Op.String(), "file_id", req.ID)
		enc.Unsupported()
		return
	}

	overwrite := truthy(req.Header.Get("X-WOPI-OverwriteRelativeTarget"))

	var targetName string
	if suggested != "" {
		targetName = resolveExtensionTarget(req.ID, suggested)
		if h.core.Storage.Exists(ctx, targetName) {
			targetName = uuid.NewString() + "_" + targetName
		}
	} else {
		targetName = resolveExtensionTarget(req.ID, relative)
		if h.core.Storage.Exists(ctx, targetName) {
			if !overwrite {
				logger.WarnCtx(ctx, "relative target exists without overwrite", "operation", req.Op.String(), "file_id", req.ID)
				enc.LockMismatch("", "")
				return
			}
			if currentLock, locked := h.core.Locks.Peek(targetName, h.core.now()); locked {
				logger.WarnCtx(ctx, "lock mismatch", "operation", req.Op.String(), "file_id", req.ID)
				enc.LockMismatch(currentLock, "")
				return
			}
		}
	}

	if err := h.core.Storage.CreateOrOverwrite(ctx, targetName, req.Raw.Body); err != nil {
		logger.ErrorCtx(ctx, "storage write failed", "operation", req.Op.String(), "file_id", req.ID, "error", err)
		enc.ServerError()
		return
	}

	token, err := h.core.Minter.Mint(user, targetName)
	if err != nil {
		logger.ErrorCtx(ctx, "access token mint failed", "operation", req.Op.String(), "file_id", req.ID, "error", err)
		enc.ServerError()
		return
	}

	enc.JSON(http.StatusOK, map[string]any{
		"Name":        targetName,
		"Url":         childURL(req.Raw, targetName, token),
		"HostViewUrl": childURL(req.Raw, targetName, token) + "&view=1",
		"HostEditUrl": childURL(req.Raw, targetName, token) + "&edit=1",
	})
}

// resolveExtensionTarget implements the §4.4 extension-change rule: a
// target beginning with "." and containing no further "." is an
// extension swap against the current id's stem.
func resolveExtensionTarget(id, target string) string {
	if strings.HasPrefix(target, ".") && strings.Count(target, ".") == 1 {
		stem := strings.TrimSuffix(id, path.Ext(id))
		return stem + target
	}
	return target
}

func decodeHeader(v string) string {
	decoded, err := url.QueryUnescape(v)
	if err != nil {
		return v
	}
	return decoded
}

func truthy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1"
}

func requestAuthority(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func childURL(r *http.Request, name, token string) string {
	return fmt.Sprintf("%s/wopi/files/%s?access_token=%s", requestAuthority(r), name, token)
}
