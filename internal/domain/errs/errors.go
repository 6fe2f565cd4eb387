package errs

import "errors"

var (
	ErrCameraNotFound       = errors.New("camera not found")
	ErrCameraIsNotAvailable = errors.New("camera is not available")
	ErrCameraBusy           = errors.New("camera already has an active recording")

	ErrRecordingNotFound  = errors.New("recording not found")
	ErrRecordingNotActive = errors.New("recording is not active")
	ErrInvalidStartTime   = errors.New("invalid start time")
	ErrSessionUnhealthy   = errors.New("stream session is unhealthy")
	ErrUnsupportedFormat  = errors.New("stream has no supported video track")
	ErrNoCodecAvailable   = errors.New("no working encoder available")
	ErrWriteFailure       = errors.New("failed to write recording file")
	ErrEmptyRecordingFile = errors.New("recording file is empty or missing")

	ErrTransferNotFound     = errors.New("transfer not found")
	ErrTransferClaimed      = errors.New("transfer claimed by another worker")
	ErrSourceMissing        = errors.New("local source file is missing")
	ErrTransientNetwork     = errors.New("transient network failure")
	ErrRemoteRejected       = errors.New("remote storage rejected the upload")
	ErrVerificationMismatch = errors.New("uploaded object failed verification")
)
