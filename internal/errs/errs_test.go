package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	err := WrapPath(VerificationFailed, "bin/helper.dll", errors.New("digest mismatch"))

	assert.True(t, HasCode(err, VerificationFailed))
	assert.False(t, HasCode(err, NetworkUnavailable))

	// Survives further wrapping.
	wrapped := fmt.Errorf("download failed: %w", err)
	assert.True(t, HasCode(wrapped, VerificationFailed))

	assert.False(t, HasCode(errors.New("plain"), VerificationFailed))
	assert.False(t, HasCode(nil, VerificationFailed))
}

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(CorruptManifest, errors.New("size disagrees"))
	assert.ErrorIs(t, err, New(CorruptManifest))
	assert.NotErrorIs(t, err, New(MalformedManifest))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "NO_NEWER_RELEASE", New(NoNewerRelease).Error())
	assert.Equal(t, "VERIFICATION_FAILED: app.exe",
		(&UpdateError{Code: VerificationFailed, Path: "app.exe"}).Error())
	assert.Contains(t,
		WrapPath(VerificationFailed, "app.exe", errors.New("boom")).Error(),
		"VERIFICATION_FAILED: app.exe: boom")
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Wrap(NetworkUnavailable, errors.New("timeout"))))
	assert.False(t, Retryable(Wrap(Unauthorized, errors.New("403"))))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, Msg(RollbackFailed), UserMessage(New(RollbackFailed)))
	assert.Equal(t, Msg(CheckFailed), UserMessage(errors.New("untyped")), "unknown errors fall back to the generic line")
	assert.Equal(t, "SOME_CODE", Msg(Code("SOME_CODE")), "unknown codes render as themselves")
}
