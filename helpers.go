// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jpegmeta

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	xencoding "golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	xunicode "golang.org/x/text/encoding/unicode"
)

// Rat is a rational number as stored in EXIF, numerator and denominator kept as written.
type Rat[T int32 | uint32] interface {
	Num() T
	Den() T

	// Float64 returns the value as a float64, NaN if the rational is indeterminate.
	Float64() float64

	// IsIndeterminate reports whether the denominator is zero.
	IsIndeterminate() bool

	// String returns the string representation of the rational number.
	// If the denominator is 1, the string will be the numerator only.
	String() string
}

var (
	_ encoding.TextUnmarshaler = (*rat[int32])(nil)
	_ encoding.TextMarshaler   = rat[int32]{}
)

// rat is a lightweight rational number.
// Unlike math/big.Rat it allows a zero denominator.
type rat[T int32 | uint32] struct {
	num T
	den T
}

// Num returns the numerator of the rational number.
func (r rat[T]) Num() T {
	return r.num
}

// Den returns the denominator of the rational number.
func (r rat[T]) Den() T {
	return r.den
}

func (r rat[T]) IsIndeterminate() bool {
	return r.den == 0
}

func (r rat[T]) Float64() float64 {
	if r.den == 0 {
		return math.NaN()
	}
	return float64(r.num) / float64(r.den)
}

func (r rat[T]) String() string {
	if r.den == 1 {
		return fmt.Sprintf("%d", r.num)
	}
	return fmt.Sprintf("%d/%d", r.num, r.den)
}

func (r *rat[T]) UnmarshalText(text []byte) error {
	s := string(text)
	if !strings.Contains(s, "/") {
		num, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse %q as a rational number: %w", s, err)
		}
		r.num = T(num)
		r.den = 1
		return nil
	}
	if _, err := fmt.Sscanf(s, "%d/%d", &r.num, &r.den); err != nil {
		return fmt.Errorf("failed to parse %q as a rational number: %w", s, err)
	}
	return nil
}

func (r rat[T]) MarshalText() (text []byte, err error) {
	return []byte(r.String()), nil
}

// NewRat returns a new Rat with the given numerator and denominator.
// A zero denominator gives an indeterminate value.
func NewRat[T int32 | uint32](num, den T) Rat[T] {
	return rat[T]{num: num, den: den}
}

type vc struct{}

var exifConverters = vc{}

type valueConverter func(binary.ByteOrder, any) any

// Display converters applied after the raw value is decoded, keyed by tag name.
var exifValueConverterMap = map[string]valueConverter{
	"ExifVersion":             exifConverters.convertBytesToString,
	"FlashpixVersion":         exifConverters.convertBytesToString,
	"InteroperabilityVersion": exifConverters.convertBytesToString,
	"GPSVersionID":            exifConverters.convertBytesToStringSpaceDelim,
	"ComponentsConfiguration": exifConverters.convertBytesToStringSpaceDelim,
	"GPSProcessingMethod":     exifConverters.convertCharsetPrefixed,
	"GPSAreaInformation":      exifConverters.convertCharsetPrefixed,
	"UserComment":             exifConverters.convertCharsetPrefixed,
	"XPTitle":                 exifConverters.convertUTF16LE,
	"XPComment":               exifConverters.convertUTF16LE,
	"XPAuthor":                exifConverters.convertUTF16LE,
	"XPKeywords":              exifConverters.convertUTF16LE,
	"XPSubject":               exifConverters.convertUTF16LE,
}

func (vc) convertBytesToString(byteOrder binary.ByteOrder, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	return printableString(string(trimBytesNulls(b)))
}

func (vc) convertBytesToStringSpaceDelim(byteOrder binary.ByteOrder, v any) any {
	var bb []byte
	switch vv := v.(type) {
	case []byte:
		bb = vv
	case byte:
		bb = []byte{vv}
	default:
		return v
	}
	var buff bytes.Buffer
	for i, b := range bb {
		if i > 0 {
			buff.WriteString(" ")
		}
		buff.WriteString(strconv.Itoa(int(b)))
	}
	return buff.String()
}

// XP* tags are always UTF-16LE, whatever the TIFF byte order.
func (c vc) convertUTF16LE(byteOrder binary.ByteOrder, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	return c.decodeText(xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM).NewDecoder(), b)
}

// convertCharsetPrefixed handles values that start with an 8 byte character code,
// e.g. UserComment.
func (c vc) convertCharsetPrefixed(byteOrder binary.ByteOrder, v any) any {
	var b []byte
	switch vv := v.(type) {
	case []byte:
		b = vv
	case string:
		b = []byte(vv)
	default:
		return v
	}
	if len(b) < 8 {
		return toPrintableValue(b)
	}
	code, payload := string(b[:8]), b[8:]
	switch {
	case strings.HasPrefix(code, "UNICODE"):
		endianness := xunicode.LittleEndian
		if byteOrder == binary.BigEndian {
			endianness = xunicode.BigEndian
		}
		return c.decodeText(xunicode.UTF16(endianness, xunicode.UseBOM).NewDecoder(), payload)
	case strings.HasPrefix(code, "JIS"):
		// JIS X 0208 code points, which ISO-2022-JP reaches through the ESC $ B designation.
		withEscape := append([]byte("\x1b$B"), payload...)
		return c.decodeText(japanese.ISO2022JP.NewDecoder(), withEscape)
	case strings.HasPrefix(code, "ASCII"), code == "\x00\x00\x00\x00\x00\x00\x00\x00":
		return decodeASCII(payload)
	default:
		return decodeASCII(b)
	}
}

func (vc) decodeText(dec *xencoding.Decoder, b []byte) string {
	out, err := dec.Bytes(b)
	if err != nil {
		return decodeASCII(b)
	}
	return printableString(string(trimBytesNulls(out)))
}

// decodeASCII decodes an EXIF ASCII value.
// Many writers put Latin-1 in there, so fall back to that when the bytes are not valid UTF-8.
func decodeASCII(b []byte) string {
	b = trimBytesNulls(b)
	if !utf8.Valid(b) {
		if out, err := charmap.ISO8859_1.NewDecoder().Bytes(b); err == nil {
			b = out
		}
	}
	return printableString(string(b))
}

func (vc) parseDegrees(s string) (float64, error) {
	var deg, min, sec float64
	_, err := fmt.Sscanf(s, "%f,%f,%f", &deg, &min, &sec)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %q: %w", s, err)
	}
	return deg + min/60 + sec/3600, nil
}

func (c vc) toDegrees(v any) (float64, error) {
	switch v := v.(type) {
	case []Rat[uint32]:
		if len(v) != 3 {
			return 0.0, fmt.Errorf("expected 3 values, got %d", len(v))
		}
		deg := toFloat64(v[0])
		min := toFloat64(v[1])
		sec := toFloat64(v[2])
		if math.IsNaN(min) {
			min = 0
		}
		if math.IsNaN(sec) {
			sec = 0
		}
		return deg + min/60 + sec/3600, nil
	case Rat[uint32]:
		return v.Float64(), nil
	case float64:
		return v, nil
	case string:
		return c.parseDegrees(v)
	default:
		return 0.0, fmt.Errorf("unsupported degree type %T", v)
	}
}

type float64Provider interface {
	Float64() float64
}

func printableString(s string) string {
	ss := strings.Map(func(r rune) rune {
		if unicode.IsGraphic(r) {
			return r
		}
		return -1
	}, s)

	return strings.TrimSpace(ss)
}

func toPrintableValue(v any) any {
	switch vv := v.(type) {
	case string:
		return printableString(vv)
	case []byte:
		return decodeASCII(vv)
	default:
		return v
	}
}

func toFloat64(v any) float64 {
	switch vv := v.(type) {
	case float64Provider:
		return vv.Float64()
	case float64:
		return vv
	default:
		return 0
	}
}

func trimBytesNulls(b []byte) []byte {
	var lo, hi int
	for lo = 0; lo < len(b) && b[lo] == 0; lo++ {
	}
	for hi = len(b) - 1; hi >= 0 && b[hi] == 0; hi-- {
	}
	if lo > hi {
		return nil
	}
	return b[lo : hi+1]
}
