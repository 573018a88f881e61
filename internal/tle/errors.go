package tle

import (
	"errors"
	"fmt"
)

// ErrCacheMiss means no usable snapshot is persisted. It is a signal to
// download, not a failure. Match it with errors.Is.
var ErrCacheMiss = errors.New("tle cache miss")

// MissReason says why a cache load missed.
type MissReason string

const (
	MissAbsent  MissReason = "absent"
	MissExpired MissReason = "expired"
	MissCorrupt MissReason = "corrupt"
)

// MissError describes a cache miss. It matches ErrCacheMiss.
type MissError struct {
	Reason MissReason
	Path   string
	Err    error // parse error for MissCorrupt
}

func (e *MissError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tle cache miss (%s) at %s: %v", e.Reason, e.Path, e.Err)
	}
	return fmt.Sprintf("tle cache miss (%s) at %s", e.Reason, e.Path)
}

func (e *MissError) Is(target error) bool {
	return target == ErrCacheMiss
}

func (e *MissError) Unwrap() error {
	return e.Err
}

// StorageError is an I/O failure on the cache backend (permissions, disk
// space, unreachable Redis). Unlike a miss it may point at a persistent
// environment problem, so it is always returned to the caller.
type StorageError struct {
	Op   string // "load", "store" or "clear"
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("tle cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsMiss reports whether err is a cache miss.
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
