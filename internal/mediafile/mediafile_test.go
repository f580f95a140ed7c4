package mediafile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediakeeper/internal/models"
)

func TestClassify(t *testing.T) {
	assert.True(t, IsMedia("a/b.MP4"))
	assert.True(t, IsMedia("song.flac"))
	assert.False(t, IsMedia("a/b.jpg"))
	assert.False(t, IsMedia("README"))

	k, ok := AssetKindOf("x.en.vtt")
	require.True(t, ok)
	assert.Equal(t, models.AssetCaptions, k)
	k, ok = AssetKindOf("x.info.json")
	require.True(t, ok)
	assert.Equal(t, models.AssetMetadata, k)
	_, ok = AssetKindOf("x.exe")
	assert.False(t, ok)
}

func TestThumbnailPath(t *testing.T) {
	assert.Equal(t, "a/clip.jpg", ThumbnailPath("a/clip.mp4", "jpg"))
	assert.Equal(t, "a/clip.png", ThumbnailPath("a/clip.mp4", ".PNG"))
}

func TestGroup(t *testing.T) {
	files := []File{
		{Path: "show/ep1.mkv", Size: 100},
		{Path: "show/ep1.en.vtt", Size: 3},
		{Path: "show/ep1.jpg", Size: 5},
		{Path: "show/ep1.info.json", Size: 7},
		{Path: "show/ep1.part2.mkv", Size: 90},
		{Path: "show/ep1.part2.webp", Size: 4},
		{Path: "show/notes.txt", Size: 1},
		{Path: "other/ep1.jpg", Size: 2},
		{Path: "show/ep1.exe", Size: 1},
	}

	units, orphans := Group(files)
	require.Len(t, units, 2)

	assert.Equal(t, "show/ep1.mkv", units[0].Media.Path)
	assert.Equal(t, []models.Asset{
		{Kind: models.AssetThumbnail, Path: "show/ep1.jpg", Size: 5},
		{Kind: models.AssetCaptions, Path: "show/ep1.en.vtt", Size: 3},
		{Kind: models.AssetMetadata, Path: "show/ep1.info.json", Size: 7},
	}, units[0].Assets)

	assert.Equal(t, "show/ep1.part2.mkv", units[1].Media.Path)
	require.Len(t, units[1].Assets, 1, "longest stem wins")
	assert.Equal(t, "show/ep1.part2.webp", units[1].Assets[0].Path)

	var op []string
	for _, f := range orphans {
		op = append(op, f.Path)
	}
	assert.Equal(t, []string{"other/ep1.jpg", "show/ep1.exe", "show/notes.txt"}, op)
}

func TestGroup_CarriesObjectIDs(t *testing.T) {
	units, _ := Group([]File{
		{Path: "a.mp4", ObjectID: "library/a.mp4"},
		{Path: "a.srt", ObjectID: "library/a.srt"},
	})
	require.Len(t, units, 1)
	assert.Equal(t, "library/a.mp4", units[0].Media.ObjectID)
	assert.Equal(t, "library/a.srt", units[0].Assets[0].RemoteObjectID)
}

func TestGroup_SameStemKeepsBothMedia(t *testing.T) {
	units, orphans := Group([]File{
		{Path: "a.mp4"},
		{Path: "a.mkv"},
		{Path: "a.jpg"},
	})
	require.Len(t, units, 2)
	assert.Empty(t, orphans)
	assert.Equal(t, "a.mkv", units[0].Media.Path)
	assert.Equal(t, "a.mp4", units[1].Media.Path)
	assert.Len(t, units[0].Assets, 0)
	assert.Len(t, units[1].Assets, 1)
}

func TestObjectKeyAndPathOf(t *testing.T) {
	assert.Equal(t, "library/a/b.mp4", ObjectKey("library/", "a/b.mp4"))

	p, ok := PathOf("library/", "library/a/b.mp4")
	require.True(t, ok)
	assert.Equal(t, "a/b.mp4", p)

	_, ok = PathOf("library/", "other/a.mp4")
	assert.False(t, ok)
	_, ok = PathOf("library/", "library/")
	assert.False(t, ok)

	p, ok = PathOf("", "a.mp4")
	require.True(t, ok)
	assert.Equal(t, "a.mp4", p)
}

func TestSortAssets(t *testing.T) {
	assets := []models.Asset{
		{Kind: models.AssetMetadata, Path: "a.nfo"},
		{Kind: models.AssetCaptions, Path: "a.vtt"},
		{Kind: models.AssetThumbnail, Path: "a.png"},
		{Kind: models.AssetCaptions, Path: "a.en.vtt"},
	}
	SortAssets(assets)
	var got []string
	for _, a := range assets {
		got = append(got, a.Path)
	}
	assert.Equal(t, []string{"a.png", "a.en.vtt", "a.vtt", "a.nfo"}, got)
}
