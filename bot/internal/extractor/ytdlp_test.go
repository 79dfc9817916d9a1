package extractor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const infoDump = `{
	"title": "Test Video",
	"filesize_approx": 10485760,
	"formats": [
		{"format_id": "140", "ext": "m4a", "filesize": 3145728},
		{"format_id": "18", "ext": "mp4", "height": 360, "filesize": 5242880},
		{"format_id": "22", "ext": "mp4", "height": 720, "filesize_approx": 10485760}
	]
}`

func TestMapInfo(t *testing.T) {
	var raw rawInfo
	require.NoError(t, json.Unmarshal([]byte(infoDump), &raw))

	info := mapInfo("https://youtu.be/abc123", &raw)

	assert.Equal(t, "Test Video", info.Title)
	assert.Equal(t, "https://youtu.be/abc123", info.SourceURL)
	assert.Equal(t, int64(10485760), info.DeclaredSize, "filesize_approx is the fallback")

	require.Len(t, info.Variants, 3)
	assert.Equal(t, 0, info.Variants[0].Height, "audio streams carry no height")
	assert.Equal(t, "mp4", info.Variants[1].Container)
	assert.Equal(t, int64(10485760), info.Variants[2].SizeBytes, "per-format approx fallback")
}

func TestLocateDownloaded(t *testing.T) {
	dir := t.TempDir()

	_, err := locateDownloaded(dir)
	assert.Error(t, err, "empty directory yields no file")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.part"), []byte("partial"), 0o644))
	_, err = locateDownloaded(dir)
	assert.Error(t, err, "partial downloads are not a result")

	want := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(want, []byte("done"), 0o644))

	got, err := locateDownloaded(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
