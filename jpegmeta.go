// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Package jpegmeta reads file level attributes and EXIF metadata from JPEG files.
package jpegmeta

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// EXIF namespaces, the path of IFDs leading to a tag.
const (
	NamespaceIFD0    = "IFD0"
	NamespaceExif    = "IFD0/ExifIFD"
	NamespaceGPS     = "IFD0/GPSInfoIFD"
	NamespaceInterop = "IFD0/ExifIFD/InteroperabilityIFD"
	NamespaceIFD1    = "IFD1"
)

// internal error to signal that the segment walk is done.
var errStop = errors.New("stop")

// ImageConfig contains basic image configuration read from the JPEG frame header.
// Note that this must not be confused with the dimensions stored in EXIF tags.
type ImageConfig struct {
	Width  int
	Height int
}

// DecodeResult contains the result of a Decode operation.
type DecodeResult struct {
	ImageConfig ImageConfig

	// HasEXIF is set when an APP1/Exif segment was found.
	HasEXIF bool

	// ExifOffset is the absolute file offset of the TIFF header inside the Exif segment.
	ExifOffset int64

	// Skipped holds one *TagError per tag or directory that could not be decoded.
	// When not nil it is a *multierror.Error.
	Skipped error
}

// HandleTagFunc is the function that is called for each tag.
type HandleTagFunc func(info TagInfo) error

// Options contains the options for the Decode function.
type Options struct {
	// If set, the decoder skips tags for which this function returns false.
	// If not set, a default function is used that skips the thumbnail directory (IFD1).
	ShouldHandleTag func(tag TagInfo) bool

	// The function to call for each tag.
	// Return ErrStopWalking to stop decoding without an error.
	HandleTag HandleTagFunc

	// Warnf will be called for each warning.
	Warnf func(string, ...any)

	// LimitNumTags is the maximum number of tags to read.
	// Default value is 5000.
	LimitNumTags uint32

	// LimitTagSize is the maximum size in bytes of a tag value to read.
	// Larger values are recorded as skipped.
	// Default value is 10000.
	LimitTagSize uint32
}

// TagInfo contains information about a tag.
type TagInfo struct {
	// The tag name, e.g. "Make".
	Tag string
	// The path to the IFD, e.g. "IFD0/GPSInfoIFD".
	Namespace string
	// The numeric tag id.
	ID uint16
	// The type as written in the directory entry.
	Type TagType
	// The number of values.
	Count uint32
	// The decoded value.
	Value any
}

// Decode reads the EXIF metadata from the JPEG file in b.
// A JPEG without an Exif segment is not an error; DecodeResult.HasEXIF will be false.
func Decode(b []byte, opts Options) (result DecodeResult, err error) {
	errFinal := func(err2 error) error {
		if err2 == nil || errors.Is(err2, ErrStopWalking) || err2 == errStop {
			return nil
		}
		if isInvalidFormatErrorCandidate(err2) {
			err2 = newInvalidFormatError(err2)
		}
		return err2
	}

	defer func() {
		err = errFinal(err)
	}()

	defer func() {
		if r := recover(); r != nil {
			if errp, ok := r.(error); ok {
				err = fmt.Errorf("jpegmeta: recovered: %w", errp)
			} else {
				err = fmt.Errorf("jpegmeta: recovered: %v", r)
			}
		}
	}()

	opts = opts.withDefaults()

	dec := &imageDecoderJPEG{
		c:      newCursor(b),
		opts:   opts,
		result: &result,
	}

	err = dec.decode()

	return
}

func (opts Options) withDefaults() Options {
	const (
		defaultLimitNumTags = 5000
		defaultLimitTagSize = 10000
	)

	if opts.ShouldHandleTag == nil {
		opts.ShouldHandleTag = func(ti TagInfo) bool {
			// Skip all tags in the thumbnails IFD (IFD1).
			return strings.HasPrefix(ti.Namespace, NamespaceIFD0)
		}
	}
	if opts.HandleTag == nil {
		opts.HandleTag = func(TagInfo) error { return nil }
	}
	if opts.Warnf == nil {
		opts.Warnf = func(string, ...any) {}
	}
	if opts.LimitNumTags == 0 {
		opts.LimitNumTags = defaultLimitNumTags
	}
	if opts.LimitTagSize == 0 {
		opts.LimitTagSize = defaultLimitTagSize
	}
	return opts
}

// Tags is a collection of EXIF tags grouped per namespace.
type Tags struct {
	namespaces map[string]map[string]TagInfo
}

// Add adds a tag to its namespace.
func (t *Tags) Add(tag TagInfo) {
	t.Namespace(tag.Namespace)[tag.Tag] = tag
}

// Has reports if a tag is already added.
func (t *Tags) Has(tag TagInfo) bool {
	_, found := t.Namespace(tag.Namespace)[tag.Tag]
	return found
}

// Namespace returns the tags in the given namespace, e.g. NamespaceGPS.
func (t *Tags) Namespace(ns string) map[string]TagInfo {
	if t.namespaces == nil {
		t.namespaces = make(map[string]map[string]TagInfo)
	}
	m, ok := t.namespaces[ns]
	if !ok {
		m = make(map[string]TagInfo)
		t.namespaces[ns] = m
	}
	return m
}

// Namespaces returns the namespaces that have at least one tag.
func (t *Tags) Namespaces() []string {
	var nss []string
	for ns, m := range t.namespaces {
		if len(m) > 0 {
			nss = append(nss, ns)
		}
	}
	return nss
}

// IFD0 returns the tags of the main image directory.
func (t *Tags) IFD0() map[string]TagInfo {
	return t.Namespace(NamespaceIFD0)
}

// EXIF returns the tags of the Exif sub-IFD.
func (t *Tags) EXIF() map[string]TagInfo {
	return t.Namespace(NamespaceExif)
}

// GPS returns the tags of the GPS sub-IFD.
func (t *Tags) GPS() map[string]TagInfo {
	return t.Namespace(NamespaceGPS)
}

// Len returns the total number of tags.
func (t *Tags) Len() int {
	var n int
	for _, m := range t.namespaces {
		n += len(m)
	}
	return n
}

func (t *Tags) lookup(ns, name string) (TagInfo, bool) {
	if t.namespaces == nil {
		return TagInfo{}, false
	}
	ti, ok := t.namespaces[ns][name]
	return ti, ok
}

func (t *Tags) lookupString(ns, name string) string {
	ti, ok := t.lookup(ns, name)
	if !ok {
		return ""
	}
	s, _ := ti.Value.(string)
	return s
}

// Make returns the camera manufacturer.
func (t *Tags) Make() string {
	return t.lookupString(NamespaceIFD0, "Make")
}

// Model returns the camera model.
func (t *Tags) Model() string {
	return t.lookupString(NamespaceIFD0, "Model")
}

// SerialNumber returns the camera body serial number.
func (t *Tags) SerialNumber() string {
	return t.lookupString(NamespaceExif, "SerialNumber")
}

// Orientation returns the EXIF orientation, 0 if not set.
func (t *Tags) Orientation() uint16 {
	ti, ok := t.lookup(NamespaceIFD0, "Orientation")
	if !ok {
		return 0
	}
	switch v := ti.Value.(type) {
	case uint16:
		return v
	case uint32:
		if v <= math.MaxUint16 {
			return uint16(v)
		}
	}
	return 0
}

// GetDateTime tries to find the capture time.
// It checks DateTimeOriginal in the Exif IFD first, then DateTime in IFD0.
// If OffsetTimeOriginal is set, it is used as the time zone, else time.Local.
func (t *Tags) GetDateTime() (time.Time, error) {
	tm, _, err := t.dateTime()
	return tm, err
}

// dateTime is GetDateTime, also reporting whether the time carried a UTC offset.
func (t *Tags) dateTime() (tm time.Time, hasOffset bool, err error) {
	dateStr := t.lookupString(NamespaceExif, "DateTimeOriginal")
	offset := t.lookupString(NamespaceExif, "OffsetTimeOriginal")
	if dateStr == "" {
		dateStr = t.lookupString(NamespaceIFD0, "DateTime")
		offset = t.lookupString(NamespaceExif, "OffsetTime")
	}
	if dateStr == "" {
		return time.Time{}, false, nil
	}

	const layout = "2006:01:02 15:04:05"

	if offset != "" {
		if tm, err := time.Parse(layout+"-07:00", dateStr+offset); err == nil {
			return tm, true, nil
		}
	}

	tm, err = time.ParseInLocation(layout, dateStr, time.Local)
	return tm, false, err
}

// GetLatLong returns the latitude and longitude from the GPS IFD.
// found is false if the file has no usable GPS position.
func (t *Tags) GetLatLong() (lat float64, long float64, found bool) {
	latTag, ok := t.lookup(NamespaceGPS, "GPSLatitude")
	if !ok {
		return
	}
	longTag, ok := t.lookup(NamespaceGPS, "GPSLongitude")
	if !ok {
		return
	}

	var err error
	if lat, err = exifConverters.toDegrees(latTag.Value); err != nil {
		return 0, 0, false
	}
	if long, err = exifConverters.toDegrees(longTag.Value); err != nil {
		return 0, 0, false
	}

	if t.lookupString(NamespaceGPS, "GPSLatitudeRef") == "S" {
		lat = -lat
	}
	if t.lookupString(NamespaceGPS, "GPSLongitudeRef") == "W" {
		long = -long
	}

	if math.IsNaN(lat) || math.IsNaN(long) || math.IsInf(lat, 0) || math.IsInf(long, 0) {
		return 0, 0, false
	}

	return lat, long, true
}
