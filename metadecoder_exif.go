// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jpegmeta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path"

	"github.com/hashicorp/go-multierror"
)

const (
	byteOrderBigEndian    = 0x4d4d // "MM"
	byteOrderLittleEndian = 0x4949 // "II"
	tiffMagic             = 42

	// Size of a directory entry in bytes.
	ifdEntrySize = 12

	// Max depth of nested IFDs: IFD0 -> ExifIFD -> InteroperabilityIFD is 2.
	maxIFDDepth = 4

	// Counts above this are not trusted.
	maxTagCount = 0x10000
)

var (
	errIFDCycle      = errors.New("IFD offset already visited")
	errIFDDepth      = errors.New("IFD nesting too deep")
	errTagTooLarge   = errors.New("value exceeds size limit")
	errBadIFDPointer = errors.New("invalid IFD pointer")
)

// TagType is the basic TIFF tag data type.
type TagType uint16

const (
	TypeByte           TagType = 1
	TypeASCII          TagType = 2
	TypeShort          TagType = 3
	TypeLong           TagType = 4
	TypeRational       TagType = 5
	TypeSignedByte     TagType = 6
	TypeUndefined      TagType = 7
	TypeSignedShort    TagType = 8
	TypeSignedLong     TagType = 9
	TypeSignedRational TagType = 10
	TypeFloat          TagType = 11
	TypeDouble         TagType = 12

	// TIFF-EP type for IFD offsets, used by some writers for the sub-IFD pointers.
	typeIFD TagType = 13
)

// Size in bytes of each type.
var tagTypeSize = map[TagType]uint32{
	TypeByte:           1,
	TypeASCII:          1,
	TypeShort:          2,
	TypeLong:           4,
	TypeRational:       8,
	TypeSignedByte:     1,
	TypeUndefined:      1,
	TypeSignedShort:    2,
	TypeSignedLong:     4,
	TypeSignedRational: 8,
	TypeFloat:          4,
	TypeDouble:         8,
}

var tagTypeNames = map[TagType]string{
	TypeByte:           "BYTE",
	TypeASCII:          "ASCII",
	TypeShort:          "SHORT",
	TypeLong:           "LONG",
	TypeRational:       "RATIONAL",
	TypeSignedByte:     "SBYTE",
	TypeUndefined:      "UNDEFINED",
	TypeSignedShort:    "SSHORT",
	TypeSignedLong:     "SLONG",
	TypeSignedRational: "SRATIONAL",
	TypeFloat:          "FLOAT",
	TypeDouble:         "DOUBLE",
}

func (t TagType) String() string {
	if s, ok := tagTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TagType(%d)", uint16(t))
}

// Size returns the size in bytes of one value of this type, 0 for unknown types.
func (t TagType) Size() uint32 {
	return tagTypeSize[t]
}

func (t TagType) isUnsignedInt() bool {
	return t == TypeByte || t == TypeShort || t == TypeLong
}

// compatible reports whether a value written as typ is acceptable where t is expected.
func (t TagType) compatible(typ TagType) bool {
	if t == typ {
		return true
	}
	if t.isUnsignedInt() && typ.isUnsignedInt() {
		return true
	}
	return (t == TypeUndefined && typ == TypeByte) || (t == TypeByte && typ == TypeUndefined)
}

// tiffHeader is the header at the start of the Exif payload.
type tiffHeader struct {
	byteOrder  binary.ByteOrder
	ifd0Offset uint32
	// base is the absolute file offset of the byte order mark.
	// Every offset inside the TIFF structure is relative to it.
	base int64
}

// abs converts an offset found inside the TIFF structure to an absolute file offset.
// This is the only place that knows offsets are relative to base.
func (h tiffHeader) abs(rel uint32) int64 {
	return h.base + int64(rel)
}

// valueRef is where the value of a directory entry lives:
// in the 4 byte value slot itself, or at an offset relative to the TIFF header.
type valueRef struct {
	inline   []byte
	offset   uint32
	isOffset bool
}

func newValueRef(slot []byte, valLen int64, order binary.ByteOrder) valueRef {
	if valLen > 4 {
		return valueRef{offset: order.Uint32(slot), isOffset: true}
	}
	return valueRef{inline: slot[:valLen]}
}

func newMetaDecoderEXIF(b []byte, base int64, opts Options) *metaDecoderEXIF {
	return &metaDecoderEXIF{
		c:       newCursor(b),
		base:    base,
		opts:    opts,
		visited: make(map[int64]bool),
	}
}

type metaDecoderEXIF struct {
	c      *cursor
	base   int64
	header tiffHeader
	opts   Options

	visited map[int64]bool
	numTags uint32
	skipped *multierror.Error
}

func (e *metaDecoderEXIF) addSkipped(namespace string, id uint16, err error) {
	e.skipped = multierror.Append(e.skipped, newTagError(namespace, id, err))
}

// resolve returns the n bytes of the value ref points to.
func (e *metaDecoderEXIF) resolve(ref valueRef, n int64) ([]byte, error) {
	if !ref.isOffset {
		return ref.inline, nil
	}
	return e.c.slice(e.header.abs(ref.offset), n)
}

func (e *metaDecoderEXIF) readHeader() (tiffHeader, error) {
	h := tiffHeader{base: e.base}
	e.c.seek(e.base)

	byteOrderTag, err := e.c.read2(binary.BigEndian)
	if err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalidTiffHeader, err)
	}

	switch byteOrderTag {
	case byteOrderBigEndian:
		h.byteOrder = binary.BigEndian
	case byteOrderLittleEndian:
		h.byteOrder = binary.LittleEndian
	default:
		return h, fmt.Errorf("%w: byte order mark 0x%04x", ErrInvalidTiffHeader, byteOrderTag)
	}

	magic, err := e.c.read2(h.byteOrder)
	if err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalidTiffHeader, err)
	}
	if magic != tiffMagic {
		return h, fmt.Errorf("%w: magic number %d", ErrInvalidTiffHeader, magic)
	}

	if h.ifd0Offset, err = e.c.read4(h.byteOrder); err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalidTiffHeader, err)
	}

	return h, nil
}

func (e *metaDecoderEXIF) decode() error {
	header, err := e.readHeader()
	if err != nil {
		return err
	}
	e.header = header

	// Main image.
	next, err := e.decodeIFD(NamespaceIFD0, contextTIFF, header.ifd0Offset, 0)
	if err != nil {
		return err
	}

	// Thumbnail IFD.
	if next == 0 {
		return nil
	}
	_, err = e.decodeIFD(NamespaceIFD1, contextThumbnail, next, 1)
	return err
}

// decodeIFD decodes the directory at the TIFF offset rel and returns the offset of the next IFD.
// Problems with the directory or its entries are recorded as skipped;
// the returned error is only set when the walk should stop.
func (e *metaDecoderEXIF) decodeIFD(namespace string, ctx ifdContext, rel uint32, depth int) (uint32, error) {
	if depth > maxIFDDepth {
		e.addSkipped(namespace, 0, errIFDDepth)
		return 0, nil
	}

	pos := e.header.abs(rel)
	if e.visited[pos] {
		e.addSkipped(namespace, 0, fmt.Errorf("%w: %d", errIFDCycle, rel))
		return 0, nil
	}
	e.visited[pos] = true

	order := e.header.byteOrder

	e.c.seek(pos)
	numTags, err := e.c.read2(order)
	if err != nil {
		e.addSkipped(namespace, 0, fmt.Errorf("directory at offset %d: %w", rel, err))
		return 0, nil
	}

	for i := 0; i < int(numTags); i++ {
		entry, err := e.c.readN(ifdEntrySize)
		if err != nil {
			e.addSkipped(namespace, 0, fmt.Errorf("directory truncated after %d of %d entries: %w", i, numTags, err))
			return 0, nil
		}
		if err := e.decodeTag(namespace, ctx, entry, depth); err != nil {
			return 0, err
		}
	}

	next, err := e.c.read4(order)
	if err != nil {
		// A missing next pointer at the very end of the segment is common enough.
		return 0, nil
	}

	return next, nil
}

// A tag is represented in 12 bytes:
//   - 2 bytes for the tag ID
//   - 2 bytes for the data type
//   - 4 bytes for the number of data values of the specified type
//   - 4 bytes for the value itself, if it fits, otherwise for a pointer to another location where the data may be found;
//     this could be a pointer to the beginning of another IFD.
func (e *metaDecoderEXIF) decodeTag(namespace string, ctx ifdContext, entry []byte, depth int) error {
	order := e.header.byteOrder

	tagID := order.Uint16(entry[0:2])
	typ := TagType(order.Uint16(entry[2:4]))
	count := order.Uint32(entry[4:8])
	slot := entry[8:12]

	if p, isIFDPointer := lookupIFDPointer(ctx, tagID); isIFDPointer {
		return e.decodeSubIFD(namespace, tagID, p, typ, count, slot, depth)
	}

	e.numTags++
	if e.numTags > e.opts.LimitNumTags {
		e.opts.Warnf("tag limit of %d reached", e.opts.LimitNumTags)
		return ErrStopWalking
	}

	tagInfo := TagInfo{
		Tag:       tagName(ctx, tagID),
		Namespace: namespace,
		ID:        tagID,
		Type:      typ,
		Count:     count,
	}

	if !e.opts.ShouldHandleTag(tagInfo) {
		return nil
	}

	size := typ.Size()
	if size == 0 {
		// Unknown type; keep the raw value slot.
		tagInfo.Value = bytes.Clone(slot)
		return e.opts.HandleTag(tagInfo)
	}

	if count > maxTagCount {
		e.addSkipped(namespace, tagID, fmt.Errorf("count %d too large", count))
		return nil
	}

	valLen := int64(size) * int64(count)
	if valLen > int64(e.opts.LimitTagSize) {
		e.addSkipped(namespace, tagID, fmt.Errorf("%w: %d bytes", errTagTooLarge, valLen))
		return nil
	}

	b, err := e.resolve(newValueRef(slot, valLen, order), valLen)
	if err != nil {
		e.addSkipped(namespace, tagID, err)
		return nil
	}

	if def, ok := lookupTag(ctx, tagID); ok && !def.typ.compatible(typ) {
		e.opts.Warnf("%s/%s: expected type %s, got %s", namespace, def.name, def.typ, typ)
	}

	val := e.convertValues(typ, b)

	if convert, found := exifValueConverterMap[tagInfo.Tag]; found {
		val = convert(order, val)
	}

	if val == nil {
		val = ""
	}

	if tagInfo.Tag == tagNameThumbnailOffset {
		// Make it an offset into the file.
		if v, ok := val.(uint32); ok {
			val = e.header.abs(v)
		}
	}

	tagInfo.Value = val

	return e.opts.HandleTag(tagInfo)
}

func (e *metaDecoderEXIF) decodeSubIFD(namespace string, tagID uint16, p ifdPointer, typ TagType, count uint32, slot []byte, depth int) error {
	if count != 1 || (typ != TypeLong && typ != typeIFD && typ != TypeUndefined) {
		e.addSkipped(namespace, tagID, fmt.Errorf("%w: type %s count %d", errBadIFDPointer, typ, count))
		return nil
	}
	offset := e.header.byteOrder.Uint32(slot)
	sub := path.Join(namespace, p.name)

	return e.c.preservePos(func() error {
		_, err := e.decodeIFD(sub, p.context, offset, depth+1)
		return err
	})
}

// convertValues decodes the raw bytes b of a known type.
// Single values are returned as scalars, multiple values as typed slices.
func (e *metaDecoderEXIF) convertValues(typ TagType, b []byte) any {
	order := e.header.byteOrder

	switch typ {
	case TypeASCII:
		return decodeASCII(b)
	case TypeUndefined:
		return bytes.Clone(b)
	case TypeByte:
		if len(b) == 1 {
			return b[0]
		}
		return bytes.Clone(b)
	case TypeSignedByte:
		return decodeScalars(b, 1, func(p []byte) int8 { return int8(p[0]) })
	case TypeShort:
		return decodeScalars(b, 2, order.Uint16)
	case TypeSignedShort:
		return decodeScalars(b, 2, func(p []byte) int16 { return int16(order.Uint16(p)) })
	case TypeLong:
		return decodeScalars(b, 4, order.Uint32)
	case TypeSignedLong:
		return decodeScalars(b, 4, func(p []byte) int32 { return int32(order.Uint32(p)) })
	case TypeRational:
		return decodeScalars(b, 8, func(p []byte) Rat[uint32] {
			return NewRat(order.Uint32(p[:4]), order.Uint32(p[4:]))
		})
	case TypeSignedRational:
		return decodeScalars(b, 8, func(p []byte) Rat[int32] {
			return NewRat(int32(order.Uint32(p[:4])), int32(order.Uint32(p[4:])))
		})
	case TypeFloat:
		return decodeScalars(b, 4, func(p []byte) float32 { return math.Float32frombits(order.Uint32(p)) })
	case TypeDouble:
		return decodeScalars(b, 8, func(p []byte) float64 { return math.Float64frombits(order.Uint64(p)) })
	default:
		return bytes.Clone(b)
	}
}

// decodeScalars returns nil for no values, a T for one value and a []T for more.
func decodeScalars[T any](b []byte, size int, f func([]byte) T) any {
	n := len(b) / size
	switch n {
	case 0:
		return nil
	case 1:
		return f(b[:size])
	}
	values := make([]T, n)
	for i := range values {
		values[i] = f(b[i*size : (i+1)*size])
	}
	return values
}
