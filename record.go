// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jpegmeta

import (
	"errors"
	"math"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
)

// FileInfo is the part of fs.FileInfo a Record needs.
type FileInfo interface {
	Size() int64
	ModTime() time.Time
}

// BirthTimer is implemented by a FileInfo that knows when the file was created.
// ok is false when the file system does not record it.
type BirthTimer interface {
	BirthTime() (t time.Time, ok bool)
}

// CaptureTime is when the picture was taken.
// Without a recorded UTC offset Time is in time.Local and the text form has no zone.
type CaptureTime struct {
	Time      time.Time
	HasOffset bool
}

func (t CaptureTime) MarshalText() ([]byte, error) {
	if t.HasOffset {
		return t.Time.MarshalText()
	}
	return []byte(t.Time.Format("2006-01-02T15:04:05")), nil
}

// Group keys in Record.Metadata for the tags outside IFD0.
var metadataGroups = map[string]string{
	NamespaceExif:    "Exif",
	NamespaceGPS:     "GPS",
	NamespaceInterop: "Interop",
	NamespaceIFD1:    "Thumbnail",
}

// Record is the metadata extracted from one file.
// It is not modified after construction.
type Record struct {
	Path        string     `json:"path"`
	Filename    string     `json:"filename"`
	Size        int64      `json:"size"`
	CreatedTime *time.Time `json:"created_time,omitempty"`
	ModTime     *time.Time `json:"modified_time,omitempty"`

	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	Orientation  uint16       `json:"orientation,omitempty"`
	CaptureTime  *CaptureTime `json:"capture_time,omitempty"`
	CameraMake   string       `json:"camera_make,omitempty"`
	CameraModel  string       `json:"camera_model,omitempty"`
	CameraSerial string       `json:"camera_serial,omitempty"`
	Latitude     *float64     `json:"latitude,omitempty"`
	Longitude    *float64     `json:"longitude,omitempty"`

	// Metadata holds the IFD0 tags by name; the other directories are nested maps
	// under the keys Exif, GPS, Interop and Thumbnail.
	// It is nil when the file has no EXIF.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Skipped lists the tags that could not be decoded.
	Skipped []string `json:"skipped,omitempty"`

	// Error is set when the file could not be read or parsed.
	Error string `json:"error,omitempty"`

	err error
}

// Err returns the error that caused Error to be set, if any.
func (r Record) Err() error {
	return r.err
}

// NewErrorRecord creates a Record for a file that could not be read.
// fi may be nil.
func NewErrorRecord(path string, fi FileInfo, err error) Record {
	r := newFileRecord(path, fi)
	r.setErr(err)
	return r
}

// NewRecord decodes data, the full contents of the file at path, into a Record.
// A missing or broken Exif segment is reported in the Record, never returned.
func NewRecord(path string, fi FileInfo, data []byte, opts Options) Record {
	r := newFileRecord(path, fi)
	if fi == nil {
		r.Size = int64(len(data))
	}

	var tags Tags
	handleTag := opts.HandleTag
	opts.HandleTag = func(ti TagInfo) error {
		tags.Add(ti)
		if handleTag != nil {
			return handleTag(ti)
		}
		return nil
	}

	res, err := Decode(data, opts)

	r.Width, r.Height = res.ImageConfig.Width, res.ImageConfig.Height

	var merr *multierror.Error
	if errors.As(res.Skipped, &merr) {
		for _, e := range merr.Errors {
			r.Skipped = append(r.Skipped, e.Error())
		}
	}

	if err != nil {
		r.setErr(err)
	}

	if tags.Len() == 0 {
		return r
	}

	r.Metadata = tags.metadataMap()
	r.Orientation = tags.Orientation()
	r.CameraMake = tags.Make()
	r.CameraModel = tags.Model()
	r.CameraSerial = tags.SerialNumber()

	if tm, hasOffset, err := tags.dateTime(); err == nil && !tm.IsZero() {
		r.CaptureTime = &CaptureTime{Time: tm, HasOffset: hasOffset}
	}

	if lat, long, found := tags.GetLatLong(); found {
		r.Latitude, r.Longitude = &lat, &long
	}

	return r
}

func newFileRecord(path string, fi FileInfo) Record {
	r := Record{
		Path:     path,
		Filename: filepath.Base(path),
	}
	if fi != nil {
		r.Size = fi.Size()
		if mt := fi.ModTime(); !mt.IsZero() {
			r.ModTime = &mt
		}
		if bt, ok := fi.(BirthTimer); ok {
			if ct, ok := bt.BirthTime(); ok && !ct.IsZero() {
				r.CreatedTime = &ct
			}
		}
	}
	return r
}

func (r *Record) setErr(err error) {
	r.err = err
	r.Error = err.Error()
}

func (t *Tags) metadataMap() map[string]any {
	m := make(map[string]any)
	for _, ns := range t.Namespaces() {
		target := m
		if group, ok := metadataGroups[ns]; ok {
			target = make(map[string]any)
			m[group] = target
		} else if ns != NamespaceIFD0 {
			continue
		}
		for name, ti := range t.Namespace(ns) {
			target[name] = jsonSafe(ti.Value)
		}
	}
	return m
}

// jsonSafe replaces float values encoding/json cannot represent.
func jsonSafe(v any) any {
	switch vv := v.(type) {
	case float64:
		return safeFloat(vv)
	case float32:
		return safeFloat(float64(vv))
	case []float64:
		return safeFloats(vv)
	case []float32:
		return safeFloats(vv)
	default:
		return v
	}
}

func safeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func safeFloats[T float32 | float64](fs []T) []any {
	out := make([]any, len(fs))
	for i, f := range fs {
		out[i] = safeFloat(float64(f))
	}
	return out
}
