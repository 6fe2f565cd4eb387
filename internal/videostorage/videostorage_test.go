package videostorage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nverdin/camera_archive/internal/config"
)

func TestRemoteKey(t *testing.T) {
	key := RemoteKey("cam1", "rec1", "/videos/cam1/rec1_2026-01-02.mkv")
	assert.Equal(t, "recordings/cam1/rec1/rec1_2026-01-02.mkv", key)

	// The key only carries the base name, never the local directory layout.
	key = RemoteKey("cam1", "rec1", "rec1.mkv")
	assert.Equal(t, "recordings/cam1/rec1/rec1.mkv", key)
}

func TestNewSelectsBackend(t *testing.T) {
	backend, err := New(context.Background(), config.Storage{Mode: "local", LocalRoot: t.TempDir()})
	require.NoError(t, err)
	assert.NotNil(t, backend)

	_, err = New(context.Background(), config.Storage{Mode: "ftp"})
	assert.Error(t, err)
}
