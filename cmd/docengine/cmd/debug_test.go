package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridsearch/docengine/internal/docstore"
	"github.com/hybridsearch/docengine/internal/model"
)

func seedDocstore(t *testing.T, dataDir string, n int) {
	t.Helper()
	st, err := docstore.Open(filepath.Join(dataDir, "docstore.db"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	for i := 0; i < n; i++ {
		doc := model.Document{
			DocID:    model.DocId{Collection: "docs", ExternalID: model.NewExternalID(), Version: 1},
			Title:    "doc",
			FullText: "content",
		}
		chunks := []model.Chunk{{ChunkID: doc.DocID.String() + "/c0", DocID: doc.DocID, ChunkIndex: 0, Text: "content"}}
		require.NoError(t, st.SaveChunks(context.Background(), doc, chunks))
	}
}

func TestDebugCmd_NoIndex(t *testing.T) {
	tmpDir := t.TempDir()

	cmd := newDebugCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	oldDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldDir) }()
	_ = os.Chdir(tmpDir)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no index found")
}

func TestDebugCmd_WithIndex(t *testing.T) {
	tmpDir := t.TempDir()
	tmpDir, _ = filepath.EvalSymlinks(tmpDir)
	dataDir := filepath.Join(tmpDir, ".docengine")
	require.NoError(t, os.MkdirAll(dataDir, 0755))
	seedDocstore(t, dataDir, 10)

	cmd := newDebugCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	oldDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldDir) }()
	_ = os.Chdir(tmpDir)

	err := cmd.Execute()
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "DocEngine Debug Info")
	assert.Contains(t, output, "CHUNKS")
	assert.Contains(t, output, "10")
	assert.Contains(t, output, "EMBEDDER")
	assert.Contains(t, output, "BM25 INDEX")
	assert.Contains(t, output, "VECTOR STORE")
	assert.Contains(t, output, "STORAGE")
}

func TestDebugCmd_JSON(t *testing.T) {
	tmpDir := t.TempDir()
	tmpDir, _ = filepath.EvalSymlinks(tmpDir)
	dataDir := filepath.Join(tmpDir, ".docengine")
	require.NoError(t, os.MkdirAll(dataDir, 0755))
	seedDocstore(t, dataDir, 5)

	cmd := newDebugCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--json"})

	oldDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldDir) }()
	_ = os.Chdir(tmpDir)

	err := cmd.Execute()
	require.NoError(t, err)

	var info DebugInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, 5, info.ChunkCount)
	assert.NotEmpty(t, info.IndexPath)
	assert.NotEmpty(t, info.ProjectRoot)
}

func TestCollectDebugInfo_WithChunks(t *testing.T) {
	tmpDir := t.TempDir()
	tmpDir, _ = filepath.EvalSymlinks(tmpDir)
	dataDir := filepath.Join(tmpDir, ".docengine")
	require.NoError(t, os.MkdirAll(dataDir, 0755))
	seedDocstore(t, dataDir, 10)

	info, err := collectDebugInfo(context.Background(), tmpDir, dataDir)
	require.NoError(t, err)
	assert.Equal(t, dataDir, info.IndexPath)
	assert.Equal(t, tmpDir, info.ProjectRoot)
	assert.Equal(t, 10, info.ChunkCount)
	assert.NotEmpty(t, info.EmbedderProvider)
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		name     string
		time     time.Time
		expected string
	}{
		{name: "zero time", time: time.Time{}, expected: "unknown"},
		{name: "just now", time: time.Now(), expected: "just now"},
		{name: "1 minute ago", time: time.Now().Add(-time.Minute), expected: "1 minute ago"},
		{name: "5 minutes ago", time: time.Now().Add(-5 * time.Minute), expected: "5 minutes ago"},
		{name: "1 hour ago", time: time.Now().Add(-time.Hour), expected: "1 hour ago"},
		{name: "3 hours ago", time: time.Now().Add(-3 * time.Hour), expected: "3 hours ago"},
		{name: "1 day ago", time: time.Now().Add(-24 * time.Hour), expected: "1 day ago"},
		{name: "5 days ago", time: time.Now().Add(-5 * 24 * time.Hour), expected: "5 days ago"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatAge(tt.time)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		input    int
		expected string
	}{
		{0, "0"},
		{1, "1"},
		{999, "999"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := formatNumber(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}
