package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"todobot/pkg/logx"
)

func TestOpenDocumentMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	d, err := OpenDocument(path, logx.Nop())
	require.NoError(t, err)
	require.Empty(t, d.Digests())
}

func TestDocumentSaveReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	d, err := OpenDocument(path, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, d.Save(map[string][]byte{
		"digest-a": []byte("blob-a"),
		"digest-b": []byte("blob-b"),
	}))

	// No temp file left behind.
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))

	d2, err := OpenDocument(path, logx.Nop())
	require.NoError(t, err)
	b, ok := d2.Get("digest-a")
	require.True(t, ok)
	require.Equal(t, []byte("blob-a"), b)
	require.ElementsMatch(t, []string{"digest-a", "digest-b"}, d2.Digests())
}

func TestDocumentSaveDeletesNilEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	d, err := OpenDocument(path, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, d.Save(map[string][]byte{"digest-a": []byte("blob")}))
	require.NoError(t, d.Save(map[string][]byte{"digest-a": nil}))

	d2, err := OpenDocument(path, logx.Nop())
	require.NoError(t, err)
	_, ok := d2.Get("digest-a")
	require.False(t, ok)
}

func TestOpenDocumentCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := OpenDocument(path, logx.Nop())
	require.ErrorIs(t, err, ErrCorruptStore)
}

func TestOpenDocumentUnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99,"users":{}}`), 0o600))

	_, err := OpenDocument(path, logx.Nop())
	require.ErrorIs(t, err, ErrCorruptStore)
}

func TestOpenDocumentEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	d, err := OpenDocument(path, logx.Nop())
	require.NoError(t, err)
	require.Empty(t, d.Digests())
}
