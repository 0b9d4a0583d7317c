package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHotSwapGraph_Swap(t *testing.T) {
	first := NewMemoryStore()
	require.NoError(t, first.PutFile("dummy/app.js", []byte("v1"), time.Time{}))
	second := NewMemoryStore()
	require.NoError(t, second.PutFile("dummy/app.js", []byte("version2"), time.Time{}))
	require.NoError(t, second.PutFile("other/index.js", []byte("x"), time.Time{}))

	hot := NewHotSwapGraph(first)
	assert.Equal(t, 1, hot.Generation())

	buf := make([]byte, 16)
	n, err := hot.ReadContent("dummy/app.js", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(buf[:n]))

	roots, err := hot.ListChildren("")
	require.NoError(t, err)
	assert.Equal(t, []string{"dummy"}, roots)

	assert.Equal(t, 2, hot.Swap(second))
	assert.Same(t, second, hot.Current())

	n, err = hot.ReadContent("dummy/app.js", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "version2", string(buf[:n]))

	roots, err = hot.ListChildren("")
	require.NoError(t, err)
	assert.Equal(t, []string{"dummy", "other"}, roots)

	_, err = hot.GetNode("other/index.js")
	assert.NoError(t, err)
}
