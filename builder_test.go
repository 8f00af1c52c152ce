// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jpegmeta

import (
	"bytes"
	"encoding/binary"
)

// testEntry is a directory entry to write.
// If sub is set, the entry is written as a LONG pointer to that directory.
type testEntry struct {
	id    uint16
	typ   TagType
	count uint32
	value []byte
	sub   *testIFD
}

type testIFD struct {
	entries []testEntry
	next    *testIFD
	// nextOffset is written as the next pointer when next is nil.
	nextOffset uint32
}

type tiffBuilder struct {
	order binary.ByteOrder
	buf   []byte
}

// buildTIFF writes a TIFF structure with ifd0 directly after the header.
// Values that do not fit in the value slot are written after their directory.
func buildTIFF(order binary.ByteOrder, ifd0 *testIFD) []byte {
	b := &tiffBuilder{order: order}
	if order == binary.BigEndian {
		b.buf = append(b.buf, 'M', 'M')
	} else {
		b.buf = append(b.buf, 'I', 'I')
	}
	b.buf = append(b.buf, testEncoder{order}.u16(tiffMagic)...)
	b.buf = append(b.buf, testEncoder{order}.u32(8)...)
	b.writeIFD(ifd0)
	return b.buf
}

func (b *tiffBuilder) pad() {
	if len(b.buf)%2 == 1 {
		b.buf = append(b.buf, 0)
	}
}

func (b *tiffBuilder) writeIFD(ifd *testIFD) uint32 {
	b.pad()
	start := len(b.buf)
	n := len(ifd.entries)
	b.buf = append(b.buf, make([]byte, 2+n*ifdEntrySize+4)...)
	b.order.PutUint16(b.buf[start:], uint16(n))

	for i, e := range ifd.entries {
		p := start + 2 + i*ifdEntrySize
		b.order.PutUint16(b.buf[p:], e.id)
		if e.sub != nil {
			b.order.PutUint16(b.buf[p+2:], uint16(TypeLong))
			b.order.PutUint32(b.buf[p+4:], 1)
			off := b.writeIFD(e.sub)
			b.order.PutUint32(b.buf[p+8:], off)
			continue
		}
		b.order.PutUint16(b.buf[p+2:], uint16(e.typ))
		b.order.PutUint32(b.buf[p+4:], e.count)
		if len(e.value) <= 4 {
			copy(b.buf[p+8:p+12], e.value)
			continue
		}
		b.pad()
		off := len(b.buf)
		b.buf = append(b.buf, e.value...)
		b.order.PutUint32(b.buf[p+8:], uint32(off))
	}

	nextPos := start + 2 + n*ifdEntrySize
	next := ifd.nextOffset
	if ifd.next != nil {
		next = b.writeIFD(ifd.next)
	}
	b.order.PutUint32(b.buf[nextPos:], next)

	return uint32(start)
}

type testEncoder struct {
	order binary.ByteOrder
}

func (e testEncoder) u16(v uint16) []byte {
	b := make([]byte, 2)
	e.order.PutUint16(b, v)
	return b
}

func (e testEncoder) u32(v uint32) []byte {
	b := make([]byte, 4)
	e.order.PutUint32(b, v)
	return b
}

func (e testEncoder) shorts(id uint16, vals ...uint16) testEntry {
	var b []byte
	for _, v := range vals {
		b = append(b, e.u16(v)...)
	}
	return testEntry{id: id, typ: TypeShort, count: uint32(len(vals)), value: b}
}

func (e testEncoder) longs(id uint16, vals ...uint32) testEntry {
	var b []byte
	for _, v := range vals {
		b = append(b, e.u32(v)...)
	}
	return testEntry{id: id, typ: TypeLong, count: uint32(len(vals)), value: b}
}

// rationals takes numerator and denominator pairs.
func (e testEncoder) rationals(id uint16, vals ...uint32) testEntry {
	var b []byte
	for _, v := range vals {
		b = append(b, e.u32(v)...)
	}
	return testEntry{id: id, typ: TypeRational, count: uint32(len(vals) / 2), value: b}
}

func (e testEncoder) srationals(id uint16, vals ...int32) testEntry {
	var b []byte
	for _, v := range vals {
		b = append(b, e.u32(uint32(v))...)
	}
	return testEntry{id: id, typ: TypeSignedRational, count: uint32(len(vals) / 2), value: b}
}

func asciiEntry(id uint16, s string) testEntry {
	b := append([]byte(s), 0)
	return testEntry{id: id, typ: TypeASCII, count: uint32(len(b)), value: b}
}

func rawEntry(id uint16, typ TagType, count uint32, b []byte) testEntry {
	return testEntry{id: id, typ: typ, count: count, value: b}
}

func pointerEntry(id uint16, sub *testIFD) testEntry {
	return testEntry{id: id, sub: sub}
}

// newTestIFD0 returns a directory tree with tags in all four contexts.
func newTestIFD0(order binary.ByteOrder) *testIFD {
	enc := testEncoder{order}

	interop := &testIFD{
		entries: []testEntry{
			asciiEntry(0x0001, "R98"),
			rawEntry(0x0002, TypeUndefined, 4, []byte("0100")),
		},
	}

	exif := &testIFD{
		entries: []testEntry{
			enc.rationals(0x829a, 1, 200),
			enc.rationals(0x829d, 28, 10),
			enc.shorts(0x8827, 100),
			rawEntry(0x9000, TypeUndefined, 4, []byte("0232")),
			asciiEntry(0x9003, "2024:03:01 12:00:00"),
			asciiEntry(0x9011, "+02:00"),
			enc.srationals(0x9204, -1, 3),
			asciiEntry(0xa431, "SN12345"),
			pointerEntry(tagInteropIFDPointer, interop),
		},
	}

	gps := &testIFD{
		entries: []testEntry{
			rawEntry(0x0000, TypeByte, 4, []byte{2, 3, 0, 0}),
			asciiEntry(0x0001, "N"),
			enc.rationals(0x0002, 36, 1, 30, 1, 0, 1),
			asciiEntry(0x0003, "W"),
			enc.rationals(0x0004, 4, 1, 15, 1, 0, 1),
		},
	}

	thumbnail := &testIFD{
		entries: []testEntry{
			enc.shorts(0x0103, 6),
			enc.longs(0x0201, 1000),
			enc.longs(0x0202, 2000),
		},
	}

	return &testIFD{
		entries: []testEntry{
			asciiEntry(0x010f, "TestCam"),
			asciiEntry(0x0110, "TC-1 Mark II"),
			enc.shorts(0x0112, 1),
			enc.rationals(0x011a, 72, 1),
			enc.rationals(0x011b, 72, 1),
			enc.shorts(0x0128, 2),
			asciiEntry(0x0132, "2024:03:01 12:00:00"),
			pointerEntry(tagExifIFDPointer, exif),
			pointerEntry(tagGPSIFDPointer, gps),
		},
		next: thumbnail,
	}
}

func newTestTIFF(order binary.ByteOrder) []byte {
	return buildTIFF(order, newTestIFD0(order))
}

// jpegSegment returns a marker segment with the given payload.
func jpegSegment(marker uint16, payload []byte) []byte {
	b := []byte{byte(marker >> 8), byte(marker)}
	b = binary.BigEndian.AppendUint16(b, uint16(len(payload)+2))
	return append(b, payload...)
}

func exifSegment(tiff []byte) []byte {
	return jpegSegment(markerApp1, append([]byte("Exif\x00\x00"), tiff...))
}

func jfifSegment() []byte {
	return jpegSegment(0xffe0, []byte("JFIF\x00\x01\x02\x00\x00\x01\x00\x01\x00\x00"))
}

func sofSegment(marker uint16, width, height int) []byte {
	payload := []byte{8}
	payload = binary.BigEndian.AppendUint16(payload, uint16(height))
	payload = binary.BigEndian.AppendUint16(payload, uint16(width))
	payload = append(payload, 3, 1, 0x22, 0, 2, 0x11, 1, 3, 0x11, 1)
	return jpegSegment(marker, payload)
}

// scanAndEnd returns a Start-Of-Scan segment, some entropy coded data and End-Of-Image.
func scanAndEnd() []byte {
	b := jpegSegment(markerSOS, []byte{3, 1, 0, 2, 0x11, 3, 0x11, 0, 0x3f, 0})
	b = append(b, 0x12, 0xff, 0x00, 0x34, 0xff, 0xd0, 0x56)
	return append(b, 0xff, 0xd9)
}

// buildJPEG assembles SOI and the given segments, followed by scan data and EOI.
func buildJPEG(segments ...[]byte) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xd8})
	for _, s := range segments {
		buf.Write(s)
	}
	buf.Write(scanAndEnd())
	return buf.Bytes()
}

// newTestJPEG returns a 640x480 JPEG with the full test directory tree.
// The TIFF header starts at offset testExifOffset.
func newTestJPEG(order binary.ByteOrder) []byte {
	return buildJPEG(jfifSegment(), exifSegment(newTestTIFF(order)), sofSegment(markerSOF0, 640, 480))
}

// SOI (2) + JFIF segment (18) + APP1 marker and length (4) + Exif signature (6).
const testExifOffset = 30
