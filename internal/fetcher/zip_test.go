package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestExtractZIP_DatasetLayout(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"scifact/corpus.jsonl":    `{"_id":"1"}`,
		"scifact/queries.jsonl":   `{"_id":"q"}`,
		"scifact/qrels/test.tsv":  "query-id\tcorpus-id\tscore\n",
		"scifact/qrels/train.tsv": "query-id\tcorpus-id\tscore\n",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	assert.Len(t, extracted, 4)

	data, err := os.ReadFile(filepath.Join(destDir, "scifact", "corpus.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, `{"_id":"1"}`, string(data))

	found, err := FindFile(destDir, "queries.jsonl")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "scifact", "queries.jsonl"), found)
}

func TestFindFile_NotFound(t *testing.T) {
	_, err := FindFile(t.TempDir(), "corpus.jsonl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corpus.jsonl not found")
}

func TestExtractZIP_ZipSlipPrevention(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"../../../etc/passwd": "malicious",
	})

	_, err := ExtractZIP(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip slip")
}

func TestExtractZIP_InvalidArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	_, err := ExtractZIP(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open archive")
}
