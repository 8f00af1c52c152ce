// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jpegmeta

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAJpeg is returned when the input does not start with the SOI marker.
	ErrNotAJpeg = errors.New("jpegmeta: not a JPEG")

	// ErrMalformedSegment is returned when the marker sequence or a segment length is inconsistent.
	ErrMalformedSegment = errors.New("jpegmeta: malformed segment")

	// ErrInvalidTiffHeader is returned when the Exif payload has a bad byte order mark or magic number.
	ErrInvalidTiffHeader = errors.New("jpegmeta: invalid TIFF header")

	// ErrOutOfBounds is returned when a read would go past the end of the buffer.
	ErrOutOfBounds = errors.New("jpegmeta: read out of bounds")

	// ErrTagDecodeSkipped is wrapped by every TagError.
	ErrTagDecodeSkipped = errors.New("jpegmeta: tag skipped")

	// ErrStopWalking is a sentinel error to signal that the walk should stop.
	ErrStopWalking = errors.New("stop walking")
)

// InvalidFormatError is used when the input is not valid for the format it claims to be.
type InvalidFormatError struct {
	Err error
}

func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("jpegmeta: invalid format: %s", e.Err)
}

func (e *InvalidFormatError) Unwrap() error {
	return e.Err
}

// IsInvalidFormat reports whether err is an InvalidFormatError.
func IsInvalidFormat(err error) bool {
	var e *InvalidFormatError
	return errors.As(err, &e)
}

func newInvalidFormatError(err error) error {
	if err == nil || IsInvalidFormat(err) {
		return err
	}
	return &InvalidFormatError{Err: err}
}

func isInvalidFormatErrorCandidate(err error) bool {
	for _, candidate := range []error{ErrNotAJpeg, ErrMalformedSegment, ErrInvalidTiffHeader, ErrOutOfBounds} {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}

// TagError describes a single tag that could not be decoded.
// It never fails the whole decode.
type TagError struct {
	Namespace string
	ID        uint16
	Err       error
}

func (e *TagError) Error() string {
	return fmt.Sprintf("%s: tag 0x%04x skipped: %s", e.Namespace, e.ID, e.Err)
}

func (e *TagError) Unwrap() []error {
	return []error{ErrTagDecodeSkipped, e.Err}
}

func newTagError(namespace string, id uint16, err error) *TagError {
	return &TagError{Namespace: namespace, ID: id, Err: err}
}
