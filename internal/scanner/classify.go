package scanner

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// FileKind is the scanner's classification of a directory entry.
type FileKind int

const (
	KindUnknown FileKind = iota
	KindMedia
	KindSidecar
	KindImage
	KindLocalVideo
	KindSubtitle
)

// Extension sets give O(1) membership checks during the walk.
var (
	mediaExtensions = map[string]bool{
		".mkv": true, ".mp4": true, ".avi": true, ".m4v": true, ".mov": true,
		".wmv": true, ".ts": true, ".webm": true, ".mpg": true, ".mpeg": true,
	}
	imageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true, ".bmp": true,
	}
	subtitleExtensions = map[string]bool{
		".srt": true, ".sub": true, ".ass": true, ".ssa": true, ".vtt": true,
	}
)

// Asset suffix patterns, matched against the lowercase basename without
// extension. The optional trailing digits cover ranked files (-poster1).
var (
	artworkSuffixRe = regexp.MustCompile(`-(poster|fanart|banner|clearlogo|clearart|disc|landscape|characterart)\d*$`)
	trailerSuffixRe = regexp.MustCompile(`-trailer\d*$`)
)

// Classify buckets a path by extension and canonical suffix.
func Classify(path string) FileKind {
	ext := strings.ToLower(filepath.Ext(path))
	stem := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))

	switch {
	case ext == ".nfo":
		return KindSidecar
	case imageExtensions[ext]:
		if artworkSuffixRe.MatchString(stem) || isBareArtworkName(stem) {
			return KindImage
		}
		return KindUnknown
	case subtitleExtensions[ext]:
		return KindSubtitle
	case mediaExtensions[ext]:
		if trailerSuffixRe.MatchString(stem) {
			return KindLocalVideo
		}
		return KindMedia
	default:
		return KindUnknown
	}
}

// isBareArtworkName covers the folder-level names players also accept.
func isBareArtworkName(stem string) bool {
	switch stem {
	case "poster", "fanart", "banner", "folder", "cover", "backdrop", "logo":
		return true
	}
	return false
}

var yearRe = regexp.MustCompile(`^(.*?)[ ._(\[]+((?:19|20)\d{2})[)\]]?(?:[ ._].*)?$`)

var junkRe = regexp.MustCompile(`(?i)\b(1080p|720p|480p|2160p|4k|uhd|bluray|blu-ray|brrip|bdrip|dvdrip|webrip|web-dl|webdl|hdtv|hdrip|x264|x265|h264|h265|hevc|aac|ac3|dts|atmos|remux|proper|repack|extended|unrated)\b`)

// ParseTitleYear extracts a display title and optional year from a media
// filename.
func ParseTitleYear(path string) (string, *int) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var year *int
	if m := yearRe.FindStringSubmatch(stem); m != nil {
		if y, err := strconv.Atoi(m[2]); err == nil {
			year = &y
			stem = m[1]
		}
	}
	stem = junkRe.ReplaceAllString(stem, "")
	stem = strings.NewReplacer(".", " ", "_", " ").Replace(stem)
	stem = strings.Join(strings.Fields(stem), " ")
	return strings.TrimSpace(stem), year
}
