// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jpegmeta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
)

func collectSegments(b []byte) ([]uint16, error) {
	var markers []uint16
	err := walkSegments(newCursor(b), func(seg Segment) error {
		markers = append(markers, seg.Marker)
		return nil
	})
	return markers, err
}

func TestWalkSegments(t *testing.T) {
	c := qt.New(t)

	c.Run("Markers until SOS", func(c *qt.C) {
		markers, err := collectSegments(newTestJPEG(binary.LittleEndian))
		c.Assert(err, qt.IsNil)
		c.Assert(markers, qt.DeepEquals, []uint16{0xffe0, markerApp1, markerSOF0})
	})

	c.Run("Fill bytes and standalone markers", func(c *qt.C) {
		b := buildJPEG(
			jfifSegment(),
			[]byte{0xff, 0xff, 0xff},
			[]byte{0xff, 0xd0},
			exifSegment(newTestTIFF(binary.BigEndian)),
			[]byte{0xff, 0x01},
		)
		markers, err := collectSegments(b)
		c.Assert(err, qt.IsNil)
		c.Assert(markers, qt.DeepEquals, []uint16{0xffe0, markerApp1})
	})

	c.Run("EOI ends the walk", func(c *qt.C) {
		b := []byte{0xff, 0xd8}
		b = append(b, jfifSegment()...)
		b = append(b, 0xff, 0xd9, 0x00, 0x00, 0x00)
		markers, err := collectSegments(b)
		c.Assert(err, qt.IsNil)
		c.Assert(markers, qt.DeepEquals, []uint16{0xffe0})
	})

	c.Run("No SOS", func(c *qt.C) {
		b := []byte{0xff, 0xd8}
		b = append(b, jfifSegment()...)
		markers, err := collectSegments(b)
		c.Assert(err, qt.IsNil)
		c.Assert(markers, qt.HasLen, 1)
	})

	c.Run("Segment offsets", func(c *qt.C) {
		var segs []Segment
		err := walkSegments(newCursor(newTestJPEG(binary.LittleEndian)), func(seg Segment) error {
			segs = append(segs, seg)
			return nil
		})
		c.Assert(err, qt.IsNil)
		c.Assert(segs[0], qt.Equals, Segment{Marker: 0xffe0, Offset: 6, Length: 14})
		c.Assert(segs[1].Offset, qt.Equals, int64(24))
		c.Assert(segs[1].String(), qt.Matches, `0xffe1@24\+\d+`)
	})

	c.Run("Callback error", func(c *qt.C) {
		myErr := errors.New("my error")
		err := walkSegments(newCursor(newTestJPEG(binary.LittleEndian)), func(seg Segment) error {
			return myErr
		})
		c.Assert(err, qt.Equals, myErr)
	})

	c.Run("Not a JPEG", func(c *qt.C) {
		for _, b := range [][]byte{nil, {0xff}, []byte("GIF89a"), {0xd8, 0xff}} {
			r := newCursor(b)
			err := walkSegments(r, func(Segment) error { return nil })
			c.Assert(err, qt.Equals, ErrNotAJpeg)
			c.Assert(r.pos <= 2, qt.IsTrue)
		}
	})

	c.Run("Malformed", func(c *qt.C) {
		for i, b := range [][]byte{
			// Not a marker.
			{0xff, 0xd8, 0x12, 0x34},
			// Stuffed zero.
			{0xff, 0xd8, 0xff, 0x00},
			// Marker at end of file.
			{0xff, 0xd8, 0xff},
			{0xff, 0xd8, 0xff, 0xff, 0xff},
			// Truncated length.
			{0xff, 0xd8, 0xff, 0xe0, 0x00},
			// Length below 2.
			{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x01},
			{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x00},
			// Length past end of file.
			{0xff, 0xd8, 0xff, 0xe1, 0x00, 0x50, 0x45, 0x78},
		} {
			_, err := collectSegments(b)
			c.Assert(errors.Is(err, ErrMalformedSegment), qt.IsTrue, qt.Commentf("%d: %v", i, err))
		}
	})
}

func TestIsSOFMarker(t *testing.T) {
	c := qt.New(t)

	for marker := uint16(0xffc0); marker <= 0xffcf; marker++ {
		expect := marker != 0xffc4 && marker != 0xffc8 && marker != 0xffcc
		c.Assert(isSOFMarker(marker), qt.Equals, expect, qt.Commentf("0x%04x", marker))
	}
	c.Assert(isSOFMarker(0xffe1), qt.IsFalse)
	c.Assert(isSOFMarker(0xffbf), qt.IsFalse)
}

func TestDecodeJPEGSegments(t *testing.T) {
	c := qt.New(t)

	c.Run("Dimensions and Exif offset", func(c *qt.C) {
		res, err := Decode(newTestJPEG(binary.LittleEndian), Options{})
		c.Assert(err, qt.IsNil)
		c.Assert(res.HasEXIF, qt.IsTrue)
		c.Assert(res.ExifOffset, qt.Equals, int64(testExifOffset))
		c.Assert(res.ImageConfig, qt.Equals, ImageConfig{Width: 640, Height: 480})
		c.Assert(res.Skipped, qt.IsNil)
	})

	c.Run("Progressive with DHT before frame header", func(c *qt.C) {
		b := buildJPEG(
			jpegSegment(markerDHT, []byte{0x00, 0x01, 0x02, 0x03}),
			sofSegment(0xffc2, 1024, 768),
		)
		res, err := Decode(b, Options{})
		c.Assert(err, qt.IsNil)
		c.Assert(res.HasEXIF, qt.IsFalse)
		c.Assert(res.ImageConfig, qt.Equals, ImageConfig{Width: 1024, Height: 768})
	})

	c.Run("No Exif", func(c *qt.C) {
		var called bool
		b := buildJPEG(jfifSegment(), sofSegment(markerSOF0, 16, 8))
		res, err := Decode(b, Options{HandleTag: func(TagInfo) error {
			called = true
			return nil
		}})
		c.Assert(err, qt.IsNil)
		c.Assert(res.HasEXIF, qt.IsFalse)
		c.Assert(res.ExifOffset, qt.Equals, int64(0))
		c.Assert(called, qt.IsFalse)
	})

	c.Run("APP1 without Exif signature", func(c *qt.C) {
		xmp := jpegSegment(markerApp1, []byte("http://ns.adobe.com/xap/1.0/\x00<x:xmpmeta/>"))
		short := jpegSegment(markerApp1, []byte("Exif"))
		res, err := Decode(buildJPEG(xmp, short), Options{})
		c.Assert(err, qt.IsNil)
		c.Assert(res.HasEXIF, qt.IsFalse)
	})

	c.Run("Signature padded with 0xff", func(c *qt.C) {
		seg := jpegSegment(markerApp1, append([]byte("Exif\x00\xff"), newTestTIFF(binary.BigEndian)...))
		tags := decodeTags(c, buildJPEG(seg), Options{})
		c.Assert(tags.Make(), qt.Equals, "TestCam")
	})

	c.Run("First Exif segment wins", func(c *qt.C) {
		enc := testEncoder{binary.LittleEndian}
		second := buildTIFF(binary.LittleEndian, &testIFD{entries: []testEntry{enc.shorts(0x0112, 8)}})
		b := buildJPEG(exifSegment(newTestTIFF(binary.LittleEndian)), exifSegment(second))
		tags := decodeTags(c, b, Options{})
		c.Assert(tags.Orientation(), qt.Equals, uint16(1))
	})

	c.Run("Broken after Exif", func(c *qt.C) {
		b := []byte{0xff, 0xd8}
		b = append(b, exifSegment(newTestTIFF(binary.LittleEndian))...)
		b = append(b, 0x00, 0x01, 0x02)

		var warnings []string
		warnf := func(format string, args ...any) {
			warnings = append(warnings, fmt.Sprintf(format, args...))
		}
		tags := decodeTags(c, b, Options{Warnf: warnf})
		c.Assert(tags.Make(), qt.Equals, "TestCam")
		c.Assert(warnings, qt.HasLen, 1)
		c.Assert(warnings[0], qt.Contains, "malformed segment")
	})

	c.Run("Broken before Exif", func(c *qt.C) {
		b := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x01}
		b = append(b, exifSegment(newTestTIFF(binary.LittleEndian))...)
		res, err := Decode(b, Options{})
		c.Assert(IsInvalidFormat(err), qt.IsTrue)
		c.Assert(errors.Is(err, ErrMalformedSegment), qt.IsTrue)
		c.Assert(res.HasEXIF, qt.IsFalse)
	})

	c.Run("Not a JPEG", func(c *qt.C) {
		_, err := Decode([]byte("\x89PNG\r\n\x1a\n"), Options{})
		c.Assert(IsInvalidFormat(err), qt.IsTrue)
		c.Assert(errors.Is(err, ErrNotAJpeg), qt.IsTrue)
	})

	c.Run("Short frame header", func(c *qt.C) {
		var warned bool
		b := buildJPEG(jpegSegment(markerSOF0, []byte{8, 0}))
		res, err := Decode(b, Options{Warnf: func(string, ...any) { warned = true }})
		c.Assert(err, qt.IsNil)
		c.Assert(warned, qt.IsTrue)
		c.Assert(res.ImageConfig, qt.Equals, ImageConfig{})
	})
}

func decodeTags(c *qt.C, b []byte, opts Options) Tags {
	c.Helper()
	var tags Tags
	opts.HandleTag = func(ti TagInfo) error {
		tags.Add(ti)
		return nil
	}
	_, err := Decode(b, opts)
	c.Assert(err, qt.IsNil)
	return tags
}
