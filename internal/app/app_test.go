package app

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justme409/aiprojectengineerv3/internal/config"
)

func TestMockModeRunEndToEnd(t *testing.T) {
	var out bytes.Buffer
	opts := &Options{
		ProjectID:   "p1",
		DocumentIDs: []string{"d1", "d2"},
		LogLevel:    "error",
		LogFormat:   "text",
		MockMode:    true,
	}

	a := NewApp(&out, opts, config.NewHCLLoader())

	assets, fetcher := a.MockStores()
	require.NotNil(t, assets)
	require.NotNil(t, fetcher)

	require.NoError(t, a.Run(context.Background(), opts))
	assert.Contains(t, out.String(), "run_id")
	assert.Contains(t, out.String(), "completed")

	docs, err := assets.ListByProject(context.Background(), "p1", "document")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.NotEmpty(t, assets.Edges())
}

func TestMockStoresNilOutsideMockMode(t *testing.T) {
	a := &App{}
	assets, fetcher := a.MockStores()
	assert.Nil(t, assets)
	assert.Nil(t, fetcher)
}
