// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package jpegmeta

import "fmt"

// UnknownPrefix is used as prefix for unknown tags.
const UnknownPrefix = "UnknownTag_"

// ifdContext selects the tag table a directory's ids are looked up in.
type ifdContext uint8

const (
	contextTIFF ifdContext = iota
	contextExif
	contextGPS
	contextInterop

	// IFD1 uses the TIFF tags but has no sub-IFDs.
	contextThumbnail
)

// tagDef is the dictionary entry for one tag.
// typ is the type the Exif 2.3 standard declares; when a tag allows both SHORT and LONG, SHORT is listed.
type tagDef struct {
	name string
	typ  TagType
}

// Pointer tags, followed as sub-IFDs and never reported as values.
const (
	tagExifIFDPointer    = 0x8769
	tagGPSIFDPointer     = 0x8825
	tagInteropIFDPointer = 0xa005

	tagNameThumbnailOffset = "ThumbnailOffset"
)

type ifdPointer struct {
	name    string
	parent  ifdContext
	context ifdContext
}

var exifIFDPointers = map[uint16]ifdPointer{
	tagExifIFDPointer:    {"ExifIFD", contextTIFF, contextExif},
	tagGPSIFDPointer:     {"GPSInfoIFD", contextTIFF, contextGPS},
	tagInteropIFDPointer: {"InteroperabilityIFD", contextExif, contextInterop},
}

func lookupIFDPointer(ctx ifdContext, id uint16) (ifdPointer, bool) {
	p, ok := exifIFDPointers[id]
	if !ok || p.parent != ctx {
		return ifdPointer{}, false
	}
	return p, true
}

// The curated tag set: baseline TIFF tags in IFD0/IFD1, the Exif private IFD,
// the GPS IFD and the interoperability IFD.
var (
	fieldsTIFF = map[uint16]tagDef{
		0x00fe: {"SubfileType", TypeLong},
		0x0100: {"ImageWidth", TypeShort},
		0x0101: {"ImageHeight", TypeShort},
		0x0102: {"BitsPerSample", TypeShort},
		0x0103: {"Compression", TypeShort},
		0x0106: {"PhotometricInterpretation", TypeShort},
		0x010e: {"ImageDescription", TypeASCII},
		0x010f: {"Make", TypeASCII},
		0x0110: {"Model", TypeASCII},
		0x0111: {"StripOffsets", TypeLong},
		0x0112: {"Orientation", TypeShort},
		0x0115: {"SamplesPerPixel", TypeShort},
		0x0116: {"RowsPerStrip", TypeLong},
		0x0117: {"StripByteCounts", TypeLong},
		0x011a: {"XResolution", TypeRational},
		0x011b: {"YResolution", TypeRational},
		0x011c: {"PlanarConfiguration", TypeShort},
		0x0128: {"ResolutionUnit", TypeShort},
		0x012d: {"TransferFunction", TypeShort},
		0x0131: {"Software", TypeASCII},
		0x0132: {"DateTime", TypeASCII},
		0x013b: {"Artist", TypeASCII},
		0x013e: {"WhitePoint", TypeRational},
		0x013f: {"PrimaryChromaticities", TypeRational},
		0x0201: {tagNameThumbnailOffset, TypeLong},
		0x0202: {"ThumbnailLength", TypeLong},
		0x0211: {"YCbCrCoefficients", TypeRational},
		0x0212: {"YCbCrSubSampling", TypeShort},
		0x0213: {"YCbCrPositioning", TypeShort},
		0x0214: {"ReferenceBlackWhite", TypeRational},
		0x02bc: {"ApplicationNotes", TypeByte},
		0x4746: {"Rating", TypeShort},
		0x4749: {"RatingPercent", TypeShort},
		0x8298: {"Copyright", TypeASCII},
		0x83bb: {"IPTC-NAA", TypeLong},
		0x8773: {"ICCProfile", TypeUndefined},
		0x9c9b: {"XPTitle", TypeByte},
		0x9c9c: {"XPComment", TypeByte},
		0x9c9d: {"XPAuthor", TypeByte},
		0x9c9e: {"XPKeywords", TypeByte},
		0x9c9f: {"XPSubject", TypeByte},
		0xc4a5: {"PrintIM", TypeUndefined},
	}

	fieldsExif = map[uint16]tagDef{
		0x829a: {"ExposureTime", TypeRational},
		0x829d: {"FNumber", TypeRational},
		0x8822: {"ExposureProgram", TypeShort},
		0x8824: {"SpectralSensitivity", TypeASCII},
		0x8827: {"ISO", TypeShort},
		0x8828: {"OECF", TypeUndefined},
		0x8830: {"SensitivityType", TypeShort},
		0x8831: {"StandardOutputSensitivity", TypeLong},
		0x8832: {"RecommendedExposureIndex", TypeLong},
		0x9000: {"ExifVersion", TypeUndefined},
		0x9003: {"DateTimeOriginal", TypeASCII},
		0x9004: {"CreateDate", TypeASCII},
		0x9010: {"OffsetTime", TypeASCII},
		0x9011: {"OffsetTimeOriginal", TypeASCII},
		0x9012: {"OffsetTimeDigitized", TypeASCII},
		0x9101: {"ComponentsConfiguration", TypeUndefined},
		0x9102: {"CompressedBitsPerPixel", TypeRational},
		0x9201: {"ShutterSpeedValue", TypeSignedRational},
		0x9202: {"ApertureValue", TypeRational},
		0x9203: {"BrightnessValue", TypeSignedRational},
		0x9204: {"ExposureCompensation", TypeSignedRational},
		0x9205: {"MaxApertureValue", TypeRational},
		0x9206: {"SubjectDistance", TypeRational},
		0x9207: {"MeteringMode", TypeShort},
		0x9208: {"LightSource", TypeShort},
		0x9209: {"Flash", TypeShort},
		0x920a: {"FocalLength", TypeRational},
		0x9214: {"SubjectArea", TypeShort},
		0x927c: {"MakerNote", TypeUndefined},
		0x9286: {"UserComment", TypeUndefined},
		0x9290: {"SubSecTime", TypeASCII},
		0x9291: {"SubSecTimeOriginal", TypeASCII},
		0x9292: {"SubSecTimeDigitized", TypeASCII},
		0xa000: {"FlashpixVersion", TypeUndefined},
		0xa001: {"ColorSpace", TypeShort},
		0xa002: {"ExifImageWidth", TypeShort},
		0xa003: {"ExifImageHeight", TypeShort},
		0xa004: {"RelatedSoundFile", TypeASCII},
		0xa20b: {"FlashEnergy", TypeRational},
		0xa20e: {"FocalPlaneXResolution", TypeRational},
		0xa20f: {"FocalPlaneYResolution", TypeRational},
		0xa210: {"FocalPlaneResolutionUnit", TypeShort},
		0xa214: {"SubjectLocation", TypeShort},
		0xa215: {"ExposureIndex", TypeRational},
		0xa217: {"SensingMethod", TypeShort},
		0xa300: {"FileSource", TypeUndefined},
		0xa301: {"SceneType", TypeUndefined},
		0xa302: {"CFAPattern", TypeUndefined},
		0xa401: {"CustomRendered", TypeShort},
		0xa402: {"ExposureMode", TypeShort},
		0xa403: {"WhiteBalance", TypeShort},
		0xa404: {"DigitalZoomRatio", TypeRational},
		0xa405: {"FocalLengthIn35mmFormat", TypeShort},
		0xa406: {"SceneCaptureType", TypeShort},
		0xa407: {"GainControl", TypeShort},
		0xa408: {"Contrast", TypeShort},
		0xa409: {"Saturation", TypeShort},
		0xa40a: {"Sharpness", TypeShort},
		0xa40b: {"DeviceSettingDescription", TypeUndefined},
		0xa40c: {"SubjectDistanceRange", TypeShort},
		0xa420: {"ImageUniqueID", TypeASCII},
		0xa430: {"OwnerName", TypeASCII},
		0xa431: {"SerialNumber", TypeASCII},
		0xa432: {"LensInfo", TypeRational},
		0xa433: {"LensMake", TypeASCII},
		0xa434: {"LensModel", TypeASCII},
		0xa435: {"LensSerialNumber", TypeASCII},
		0xa500: {"Gamma", TypeRational},
	}

	fieldsGPS = map[uint16]tagDef{
		0x0000: {"GPSVersionID", TypeByte},
		0x0001: {"GPSLatitudeRef", TypeASCII},
		0x0002: {"GPSLatitude", TypeRational},
		0x0003: {"GPSLongitudeRef", TypeASCII},
		0x0004: {"GPSLongitude", TypeRational},
		0x0005: {"GPSAltitudeRef", TypeByte},
		0x0006: {"GPSAltitude", TypeRational},
		0x0007: {"GPSTimeStamp", TypeRational},
		0x0008: {"GPSSatellites", TypeASCII},
		0x0009: {"GPSStatus", TypeASCII},
		0x000a: {"GPSMeasureMode", TypeASCII},
		0x000b: {"GPSDOP", TypeRational},
		0x000c: {"GPSSpeedRef", TypeASCII},
		0x000d: {"GPSSpeed", TypeRational},
		0x000e: {"GPSTrackRef", TypeASCII},
		0x000f: {"GPSTrack", TypeRational},
		0x0010: {"GPSImgDirectionRef", TypeASCII},
		0x0011: {"GPSImgDirection", TypeRational},
		0x0012: {"GPSMapDatum", TypeASCII},
		0x0013: {"GPSDestLatitudeRef", TypeASCII},
		0x0014: {"GPSDestLatitude", TypeRational},
		0x0015: {"GPSDestLongitudeRef", TypeASCII},
		0x0016: {"GPSDestLongitude", TypeRational},
		0x0017: {"GPSDestBearingRef", TypeASCII},
		0x0018: {"GPSDestBearing", TypeRational},
		0x0019: {"GPSDestDistanceRef", TypeASCII},
		0x001a: {"GPSDestDistance", TypeRational},
		0x001b: {"GPSProcessingMethod", TypeUndefined},
		0x001c: {"GPSAreaInformation", TypeUndefined},
		0x001d: {"GPSDateStamp", TypeASCII},
		0x001e: {"GPSDifferential", TypeShort},
		0x001f: {"GPSHPositioningError", TypeRational},
	}

	fieldsInterop = map[uint16]tagDef{
		0x0001: {"InteroperabilityIndex", TypeASCII},
		0x0002: {"InteroperabilityVersion", TypeUndefined},
		0x1000: {"RelatedImageFileFormat", TypeASCII},
		0x1001: {"RelatedImageWidth", TypeShort},
		0x1002: {"RelatedImageHeight", TypeShort},
	}

	tagDictionary = map[ifdContext]map[uint16]tagDef{
		contextTIFF:      fieldsTIFF,
		contextExif:      fieldsExif,
		contextGPS:       fieldsGPS,
		contextInterop:   fieldsInterop,
		contextThumbnail: fieldsTIFF,
	}
)

func lookupTag(ctx ifdContext, id uint16) (tagDef, bool) {
	def, ok := tagDictionary[ctx][id]
	return def, ok
}

func tagName(ctx ifdContext, id uint16) string {
	if def, ok := lookupTag(ctx, id); ok {
		return def.name
	}
	if p, ok := exifIFDPointers[id]; ok {
		// A pointer in a directory where it does not belong is reported as a plain tag.
		return p.name
	}
	return fmt.Sprintf("%s0x%04x", UnknownPrefix, id)
}
