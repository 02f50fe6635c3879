package audio

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
)

// Format is an audio container recognised by the decoder.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatOGG     Format = "ogg"
	FormatM4A     Format = "m4a"
)

// ErrUnsupportedFormat is returned when neither the content nor the file name
// identifies a supported container.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

func formatFromFileType(ft tag.FileType) Format {
	switch ft {
	case tag.FLAC:
		return FormatFLAC
	case tag.MP3:
		return FormatMP3
	case tag.OGG:
		return FormatOGG
	case tag.M4A, tag.M4B, tag.ALAC:
		return FormatM4A
	default:
		return FormatUnknown
	}
}

// FormatFromName maps a file extension to a format.
func FormatFromName(name string) Format {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "wav", "wave":
		return FormatWAV
	case "mp3":
		return FormatMP3
	case "flac":
		return FormatFLAC
	case "ogg", "oga":
		return FormatOGG
	case "m4a":
		return FormatM4A
	default:
		return FormatUnknown
	}
}

// Identify detects the container of data. The content is sniffed first (RIFF
// header, then github.com/dhowden/tag, then an MPEG frame sync); the file
// name extension is only consulted when the content is inconclusive.
func Identify(data []byte, name string) (Format, error) {
	if isRIFFWave(data) {
		return FormatWAV, nil
	}
	if len(data) >= 11 {
		if _, ft, err := tag.Identify(bytes.NewReader(data)); err == nil {
			if f := formatFromFileType(ft); f != FormatUnknown {
				return f, nil
			}
		}
	}
	if len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
		return FormatMP3, nil
	}
	if f := FormatFromName(name); f != FormatUnknown {
		return f, nil
	}
	return FormatUnknown, ErrUnsupportedFormat
}

func isRIFFWave(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
