// Package mediafile classifies library files into media files and the
// side-files (thumbnails, captions, transcripts, metadata) that travel with
// them, and groups flat listings into one unit per media file.
package mediafile

import (
	"path"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/models"
)

var mediaExt = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".mov": true, ".avi": true, ".m4v": true,
	".mp3": true, ".m4a": true, ".opus": true, ".flac": true, ".wav": true,
}

var assetExt = map[string]models.AssetKind{
	".jpg":  models.AssetThumbnail,
	".jpeg": models.AssetThumbnail,
	".png":  models.AssetThumbnail,
	".webp": models.AssetThumbnail,
	".vtt":  models.AssetCaptions,
	".srt":  models.AssetCaptions,
	".ass":  models.AssetCaptions,
	".txt":  models.AssetTranscript,
	".json": models.AssetMetadata,
	".nfo":  models.AssetMetadata,
}

var kindOrder = map[models.AssetKind]int{
	models.AssetThumbnail:  0,
	models.AssetCaptions:   1,
	models.AssetTranscript: 2,
	models.AssetMetadata:   3,
}

// IsMedia reports whether name has a media extension.
func IsMedia(name string) bool {
	return mediaExt[strings.ToLower(path.Ext(name))]
}

// AssetKindOf classifies a side-file by extension.
func AssetKindOf(name string) (models.AssetKind, bool) {
	k, ok := assetExt[strings.ToLower(path.Ext(name))]
	return k, ok
}

// SortAssets orders assets by kind, then path.
func SortAssets(assets []models.Asset) {
	slices.SortFunc(assets, func(a, b models.Asset) int {
		if d := kindOrder[a.Kind] - kindOrder[b.Kind]; d != 0 {
			return d
		}
		return strings.Compare(a.Path, b.Path)
	})
}

// Stem is the path without its final extension.
func Stem(p string) string {
	return strings.TrimSuffix(p, path.Ext(p))
}

// ThumbnailPath names the thumbnail of mediaPath for an image with ext.
func ThumbnailPath(mediaPath, ext string) string {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return Stem(mediaPath) + strings.ToLower(ext)
}

// File is one object of a flat listing. ObjectID is the remote key and is
// empty for local files.
type File struct {
	Path     string
	Size     int64
	ModTime  time.Time
	ObjectID string
}

// Unit is a media file with the side-files that belong to it.
type Unit struct {
	Media  File
	Assets []models.Asset
}

// Group partitions files into units. A side-file belongs to the media file
// in the same directory whose stem, followed by a dot, is the longest prefix
// of the side-file name. Files that are neither media nor an attached
// side-file are returned as orphans. Units come back sorted by path.
func Group(files []File) ([]Unit, []File) {
	units := make(map[string]*Unit)
	stemsByDir := make(map[string][]string)
	var rest []File

	for _, f := range files {
		if IsMedia(f.Path) {
			stem := Stem(f.Path)
			if _, dup := units[stem]; dup {
				// Two media files with one stem: keep the first, the other
				// gets no side-files.
				units[f.Path+"\x00"] = &Unit{Media: f}
				continue
			}
			units[stem] = &Unit{Media: f}
			dir := path.Dir(f.Path)
			stemsByDir[dir] = append(stemsByDir[dir], stem)
			continue
		}
		rest = append(rest, f)
	}

	var orphans []File
	for _, f := range rest {
		kind, ok := AssetKindOf(f.Path)
		if !ok {
			orphans = append(orphans, f)
			continue
		}
		best := ""
		for _, stem := range stemsByDir[path.Dir(f.Path)] {
			if strings.HasPrefix(f.Path, stem+".") && len(stem) > len(best) {
				best = stem
			}
		}
		if best == "" {
			orphans = append(orphans, f)
			continue
		}
		u := units[best]
		u.Assets = append(u.Assets, models.Asset{Kind: kind, Path: f.Path, Size: f.Size, RemoteObjectID: f.ObjectID})
	}

	out := make([]Unit, 0, len(units))
	for _, u := range units {
		SortAssets(u.Assets)
		out = append(out, *u)
	}
	slices.SortFunc(out, func(a, b Unit) int { return strings.Compare(a.Media.Path, b.Media.Path) })
	slices.SortFunc(orphans, func(a, b File) int { return strings.Compare(a.Path, b.Path) })
	return out, orphans
}

// ObjectKey is the remote key of library path p under prefix.
func ObjectKey(prefix, p string) string {
	return prefix + p
}

// PathOf maps a remote key back to its library path. It reports false for
// keys outside prefix.
func PathOf(prefix, key string) (string, bool) {
	if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return "", false
	}
	return strings.TrimPrefix(key, prefix), true
}
