// Package storage defines the pluggable file-storage collaborator (spec
// §4.5, C4) that WOPI operation handlers read and write through. Any
// backend — local filesystem, object storage, a database blob column —
// can satisfy Adapter; handlers never assume a particular one.
package storage

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors returned by Adapter implementations in place of
// backend-specific error types. The operation handlers do not inspect
// the error kind: any error from Size, Open, Delete, or Rename becomes
// 404 File Unknown, and a failed write, root listing, or CheckFileInfo
// version lookup becomes 500.
var (
	// ErrNotFound means the file or folder does not exist. Operation
	// handlers answer it with 404 File Unknown, as they do every other
	// error from those reads — including the case where the backend's
	// real answer was "access denied".
	ErrNotFound = errors.New("storage: not found")
)

// ChildInfo describes one file in EnumerateChildren's response.
type ChildInfo struct {
	Name    string
	Version string
}

// RootDirectory describes the single configured root folder and its
// immediate file children (spec §4.4 CheckFolderInfo / EnumerateChildren).
type RootDirectory struct {
	Name     string
	Children []ChildInfo
}

// Adapter is the storage collaborator every operation handler depends
// on. Implementations must be safe for concurrent use: PutFile,
// DeleteFile, and RenameFile may all run concurrently against the same
// id (spec §5).
type Adapter interface {
	// Size returns the current byte size of id. Returns ErrNotFound if
	// id does not exist (or is inaccessible — see ErrNotFound doc).
	Size(ctx context.Context, id string) (int64, error)

	// ReadOnly reports whether id may not be overwritten by this host,
	// independent of lock state.
	ReadOnly(ctx context.Context, id string) bool

	// Version returns an opaque version string for id, changed by every
	// successful write. Surfaced as CheckFileInfo.Version and
	// X-WOPI-ItemVersion.
	Version(ctx context.Context, id string) (string, error)

	// Open returns a readable stream of id's current bytes. Caller must
	// Close it.
	Open(ctx context.Context, id string) (io.ReadCloser, error)

	// Upload overwrites id's bytes with the contents of r and returns
	// the new version. id must already exist; see CreateOrOverwrite for
	// creating new files.
	Upload(ctx context.Context, id string, r io.Reader) (version string, err error)

	// CreateOrOverwrite writes r as a new file named name, replacing any
	// existing file of that name.
	CreateOrOverwrite(ctx context.Context, name string, r io.Reader) error

	// Delete removes id. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// Rename changes id's name to newName. If newName collides with an
	// existing file, the backend may resolve the collision itself and
	// report the final name via the returned string; ok is false when
	// the backend refuses the rename outright (name conflict it will
	// not resolve).
	Rename(ctx context.Context, id, newName string) (finalName string, ok bool, err error)

	// Exists reports whether id currently exists, used by handlers that
	// only need a presence check (DeleteFile's precondition, for
	// example) without paying for a full Size round trip.
	Exists(ctx context.Context, id string) bool

	// RootDirectory returns the one configured root folder's name and
	// its immediate file children.
	RootDirectory(ctx context.Context) (RootDirectory, error)
}
