package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSinkNeverOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	sink := NewDirSink(dir)

	first, err := sink.Save(context.Background(), "report.txt", []byte("one"), "text/plain")
	require.NoError(t, err)
	second, err := sink.Save(context.Background(), "report.txt", []byte("two"), "text/plain")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "report.txt"), first)
	assert.Equal(t, filepath.Join(dir, "report-1.txt"), second)
	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"../../etc/passwd": "passwd",
		`C:\reports\a.txt`: "a.txt",
		"what?.mp3":        "what_.mp3",
		"  ":               "export",
		"Anna report.txt":  "Anna report.txt",
		"tab\there.txt":    "tab_here.txt",
	}
	for in, want := range cases {
		assert.Equal(t, want, SafeName(in), in)
	}
}

func TestS3SettingsEnabled(t *testing.T) {
	assert.False(t, S3Settings{}.Enabled())
	assert.False(t, S3Settings{Endpoint: "localhost:9000"}.Enabled())
	assert.True(t, S3Settings{Endpoint: "localhost:9000", Bucket: "persona"}.Enabled())
}
