package dirty

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagLifecycle(t *testing.T) {
	flag := Flag{Path: filepath.Join(t.TempDir(), `.autobuild-dirty`)}

	assert.False(t, flag.Set())
	require.NoError(t, flag.Clear(), "clearing an absent flag is a no-op")

	require.NoError(t, flag.Mark())
	assert.True(t, flag.Set())
	require.NoError(t, flag.Mark(), "marking a set flag is a no-op")
	assert.True(t, flag.Set())

	require.NoError(t, flag.Clear())
	assert.False(t, flag.Set())
}

func TestMarkCreatesParentDirectory(t *testing.T) {
	flag := Flag{Path: filepath.Join(t.TempDir(), `state`, `.dirty`)}
	require.NoError(t, flag.Mark())
	assert.True(t, flag.Set())
}

func TestMarkDoesNotRewriteExistingFile(t *testing.T) {
	flag := Flag{Path: filepath.Join(t.TempDir(), `.dirty`)}
	require.NoError(t, os.WriteFile(flag.Path, []byte(`custom`), 0o644))
	require.NoError(t, flag.Mark())
	content, err := os.ReadFile(flag.Path)
	require.NoError(t, err)
	assert.Equal(t, `custom`, string(content), "only presence matters, content is left alone")
}
