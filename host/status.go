package host

import (
	"errors"
	"fmt"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/container"
	"go2tv.app/screenrec/pixbuf"
	"go2tv.app/screenrec/thumbnail"
)

// Status is the result code of a boundary call.
type Status int

const (
	StatusOK Status = iota
	StatusDropped
	StatusInvalidFrameData
	StatusSessionFailed
	StatusCannotCreateOutput
	StatusAlreadyFinished
	StatusUnknownHandle
	StatusPermissionDenied
	StatusTargetNotFound
	StatusInternal
)

var statusNames = map[Status]string{
	StatusOK:                 "ok",
	StatusDropped:            "dropped",
	StatusInvalidFrameData:   "invalid_frame_data",
	StatusSessionFailed:      "session_failed",
	StatusCannotCreateOutput: "cannot_create_output",
	StatusAlreadyFinished:    "already_finished",
	StatusUnknownHandle:      "unknown_handle",
	StatusPermissionDenied:   "permission_denied",
	StatusTargetNotFound:     "target_not_found",
	StatusInternal:           "internal",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

var ErrUnknownHandle = errors.New("unknown session handle")

// StatusOf maps an error from the capture or container packages to a Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrUnknownHandle):
		return StatusUnknownHandle
	case errors.Is(err, pixbuf.ErrInvalidFrameData):
		return StatusInvalidFrameData
	case errors.Is(err, container.ErrAlreadyFinished):
		return StatusAlreadyFinished
	case errors.Is(err, container.ErrCannotCreateOutput):
		return StatusCannotCreateOutput
	case errors.Is(err, container.ErrWriteFailed), errors.Is(err, container.ErrNotWriting):
		return StatusSessionFailed
	case errors.Is(err, capture.ErrPermissionDenied):
		return StatusPermissionDenied
	case errors.Is(err, thumbnail.ErrTargetNotFound):
		return StatusTargetNotFound
	default:
		return StatusInternal
	}
}
