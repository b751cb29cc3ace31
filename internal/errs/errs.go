package errs

import (
	"errors"
	"fmt"
)

type Code string

const (
	NetworkUnavailable    Code = "NETWORK_UNAVAILABLE"
	Unauthorized          Code = "UNAUTHORIZED"
	NoNewerRelease        Code = "NO_NEWER_RELEASE"
	CheckFailed           Code = "CHECK_FAILED"
	MalformedManifest     Code = "MALFORMED_MANIFEST"
	CorruptManifest       Code = "CORRUPT_MANIFEST"
	DuplicateEntry        Code = "DUPLICATE_ENTRY"
	VerificationFailed    Code = "VERIFICATION_FAILED"
	InsufficientDiskSpace Code = "INSUFFICIENT_DISK_SPACE"
	RollbackFailed        Code = "ROLLBACK_FAILED"
)

// UpdateError carries the taxonomy code for a pipeline failure. Path is set
// when the failure concerns a single manifest entry (e.g. a hash mismatch).
type UpdateError struct {
	Code Code
	Path string
	Err  error
}

func (e *UpdateError) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Path, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Path)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return string(e.Code)
	}
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Is matches any UpdateError with the same code, so callers can classify with
// errors.Is(err, errs.New(errs.CorruptManifest)) or the sentinel helpers below.
func (e *UpdateError) Is(target error) bool {
	t, ok := target.(*UpdateError)
	return ok && t.Code == e.Code
}

func New(code Code) *UpdateError {
	return &UpdateError{Code: code}
}

func Wrap(code Code, err error) *UpdateError {
	return &UpdateError{Code: code, Err: err}
}

func WrapPath(code Code, path string, err error) *UpdateError {
	return &UpdateError{Code: code, Path: path, Err: err}
}

// HasCode reports whether err (or anything it wraps) is an UpdateError with
// the given code.
func HasCode(err error, code Code) bool {
	var ue *UpdateError
	return errors.As(err, &ue) && ue.Code == code
}

// Retryable reports whether the failure class may succeed on a later attempt
// without operator intervention.
func Retryable(err error) bool {
	return HasCode(err, NetworkUnavailable)
}

var messages = map[Code]string{
	NetworkUnavailable:    "Update check failed: network unavailable. Will retry later.",
	Unauthorized:          "Update check failed: none of the configured credentials were accepted.",
	NoNewerRelease:        "No update available.",
	CheckFailed:           "Update check failed. You can retry from the Updates menu.",
	MalformedManifest:     "The published release manifest could not be parsed. This release will be skipped.",
	CorruptManifest:       "The published release manifest is inconsistent. This release will be skipped.",
	VerificationFailed:    "A downloaded file failed integrity verification. The update was abandoned; nothing was changed.",
	InsufficientDiskSpace: "Not enough free disk space to download the update. Free some space and retry.",
	RollbackFailed:        "The update could not be safely completed and automatic rollback failed. Please reinstall the application.",
}

// Msg returns the user-visible status line for a taxonomy code.
func Msg(code Code) string {
	msg := messages[code]
	if msg == "" {
		msg = string(code)
	}
	return msg
}

// UserMessage maps any pipeline error to the status line the host UI should
// display. Unknown errors fall back to the generic check-failed line.
func UserMessage(err error) string {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return Msg(ue.Code)
	}
	return Msg(CheckFailed)
}
