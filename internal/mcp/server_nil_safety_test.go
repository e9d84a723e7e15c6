package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridsearch/docengine/internal/docstore"
	"github.com/hybridsearch/docengine/internal/engine"
)

func TestNewServerRequiresEngine(t *testing.T) {
	st, err := docstore.Open("")
	require.NoError(t, err)
	defer st.Close()

	_, err = NewServer(nil, st, nil, EmbeddingInfo{}, nil)
	assert.Error(t, err)
}

func TestNewServerRequiresStore(t *testing.T) {
	eng := engine.New(nil, nil, nil, nil)
	_, err := NewServer(eng, nil, nil, EmbeddingInfo{}, nil)
	assert.Error(t, err)
}

func TestNewServerAcceptsNilCacheLayer(t *testing.T) {
	srv := newTestServer(t)
	srv.cache = nil

	out, err := srv.CallTool(context.Background(), "index_status", map[string]any{})
	require.NoError(t, err)
	status := out.(*IndexStatusOutput)
	assert.Equal(t, CacheInfo{}, status.Cache)
}

func TestIndexStatusWithoutCollectionOmitsVersion(t *testing.T) {
	srv := newTestServer(t)
	out, err := srv.CallTool(context.Background(), "index_status", map[string]any{})
	require.NoError(t, err)
	status := out.(*IndexStatusOutput)
	assert.Zero(t, status.CollectionVersion)
}
