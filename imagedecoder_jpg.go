// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jpegmeta

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	markerSOI   = 0xffd8
	markerEOI   = 0xffd9
	markerSOS   = 0xffda
	markerTEM   = 0xff01
	markerRST0  = 0xffd0
	markerRST7  = 0xffd7
	markerApp1  = 0xffe1
	markerSOF0  = 0xffc0
	markerSOF15 = 0xffcf
	markerDHT   = 0xffc4
	markerJPG   = 0xffc8
	markerDAC   = 0xffcc
)

// Accepted Exif signatures at the start of an APP1 payload.
// The first is the standard one, the second is written by some camera firmware
// that pads with 0xff instead of 0x00.
var exifSignatures = [][]byte{
	[]byte("Exif\x00\x00"),
	[]byte("Exif\x00\xff"),
}

const exifSignatureLen = 6

// Segment is a JPEG marker segment.
type Segment struct {
	// Marker is the 2 byte marker code, e.g. 0xffe1.
	Marker uint16
	// Offset is the absolute file offset of the payload, just after the length field.
	Offset int64
	// Length is the payload length, without the 2 bytes of the length field.
	Length int
}

func (s Segment) String() string {
	return fmt.Sprintf("0x%04x@%d+%d", s.Marker, s.Offset, s.Length)
}

func isStandaloneMarker(marker uint16) bool {
	return marker == markerSOI || marker == markerTEM || (marker >= markerRST0 && marker <= markerRST7)
}

func isSOFMarker(marker uint16) bool {
	if marker < markerSOF0 || marker > markerSOF15 {
		return false
	}
	return marker != markerDHT && marker != markerJPG && marker != markerDAC
}

// walkSegments calls fn for every segment with a payload, starting at the beginning of c,
// until Start-Of-Scan, End-Of-Image or end of file.
// The cursor is positioned after the segment before the next call, whatever fn did with it.
func walkSegments(c *cursor, fn func(seg Segment) error) error {
	c.seek(0)
	soi, err := c.read2(binary.BigEndian)
	if err != nil || soi != markerSOI {
		return ErrNotAJpeg
	}

	for {
		if c.remaining() == 0 {
			// No Start-Of-Scan, but nothing more to read either.
			return nil
		}
		pos := c.pos
		prefix, _ := c.read1()
		if prefix != 0xff {
			return fmt.Errorf("%w: expected marker at offset %d, got 0x%02x", ErrMalformedSegment, pos, prefix)
		}

		// Any number of 0xff fill bytes may precede the marker code.
		code := byte(0xff)
		for code == 0xff {
			if code, err = c.read1(); err != nil {
				return fmt.Errorf("%w: marker at offset %d: %w", ErrMalformedSegment, pos, err)
			}
		}
		if code == 0 {
			return fmt.Errorf("%w: stuffed zero byte at offset %d outside of scan data", ErrMalformedSegment, pos)
		}

		marker := 0xff00 | uint16(code)

		if marker == markerSOS || marker == markerEOI {
			return nil
		}

		if isStandaloneMarker(marker) {
			continue
		}

		// Read the 16-bit length of the segment. The value includes the 2 bytes for the
		// length itself, so we subtract 2 to get the number of remaining bytes.
		length, err := c.read2(binary.BigEndian)
		if err != nil {
			return fmt.Errorf("%w: length of marker 0x%04x at offset %d: %w", ErrMalformedSegment, marker, pos, err)
		}
		if length < 2 {
			return fmt.Errorf("%w: marker 0x%04x at offset %d has length %d", ErrMalformedSegment, marker, pos, length)
		}

		seg := Segment{Marker: marker, Offset: c.pos, Length: int(length) - 2}
		if int64(seg.Length) > c.remaining() {
			return fmt.Errorf("%w: segment %s extends past end of file (%d bytes)", ErrMalformedSegment, seg, c.len())
		}

		if err := fn(seg); err != nil {
			return err
		}

		c.seek(seg.Offset + int64(seg.Length))
	}
}

type imageDecoderJPEG struct {
	c      *cursor
	opts   Options
	result *DecodeResult
}

func (e *imageDecoderJPEG) hasExifSignature(seg Segment) bool {
	if seg.Length < exifSignatureLen {
		return false
	}
	sig, err := e.c.slice(seg.Offset, exifSignatureLen)
	if err != nil {
		return false
	}
	for _, s := range exifSignatures {
		if bytes.Equal(sig, s) {
			return true
		}
	}
	return false
}

func (e *imageDecoderJPEG) handleSOF(seg Segment) {
	// Sample precision (1), height (2), width (2).
	const sofHeaderLen = 5
	if seg.Length < sofHeaderLen {
		e.opts.Warnf("frame header %s too short", seg)
		return
	}
	b, err := e.c.slice(seg.Offset, sofHeaderLen)
	if err != nil {
		e.opts.Warnf("frame header %s too short", seg)
		return
	}
	e.result.ImageConfig = ImageConfig{
		Height: int(binary.BigEndian.Uint16(b[1:3])),
		Width:  int(binary.BigEndian.Uint16(b[3:5])),
	}
}

func (e *imageDecoderJPEG) decode() error {
	var (
		exifSeg   Segment
		foundEXIF bool
		foundSOF  bool
	)

	err := walkSegments(e.c, func(seg Segment) error {
		switch {
		case seg.Marker == markerApp1 && !foundEXIF:
			if e.hasExifSignature(seg) {
				exifSeg, foundEXIF = seg, true
			}
		case isSOFMarker(seg.Marker) && !foundSOF:
			foundSOF = true
			e.handleSOF(seg)
		}
		if foundEXIF && foundSOF {
			return errStop
		}
		return nil
	})

	if err == errStop {
		err = nil
	}

	if err != nil {
		if !foundEXIF {
			return err
		}
		// The metadata is intact, only the scan for the frame header failed.
		e.opts.Warnf("%s", err)
	}

	if !foundEXIF {
		return nil
	}

	return e.handleEXIF(exifSeg)
}

func (e *imageDecoderJPEG) handleEXIF(seg Segment) error {
	end := seg.Offset + int64(seg.Length)
	tiffStart := seg.Offset + exifSignatureLen

	e.result.HasEXIF = true
	e.result.ExifOffset = tiffStart

	// Limit the view to the segment; TIFF offsets must never reach beyond it.
	dec := newMetaDecoderEXIF(e.c.b[:end], tiffStart, e.opts)
	err := dec.decode()
	e.result.Skipped = dec.skipped.ErrorOrNil()

	return err
}
