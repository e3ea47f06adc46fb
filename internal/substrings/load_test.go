package substrings

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/internal/stream"
	apperrors "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/errors"
)

func TestLoadPhrasesMatchesInMemory(t *testing.T) {
	text := strings.Repeat("the cat sat\ton the mat\n\nthe dog barked\n", 50)
	path := filepath.Join(t.TempDir(), "phrases.txt")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	loaded, err := LoadPhrases(context.Background(), path, stream.ChainConfig{BlockSize: 7, Blocks: 2})
	require.NoError(t, err)
	want := load(t, text)
	require.True(t, loaded.Frozen())
	require.Equal(t, want.Fingerprint(), loaded.Fingerprint())
	require.Equal(t, uint32(100), loaded.Sentences())
}

func TestLoadPrefersSnapshot(t *testing.T) {
	dir := t.TempDir()
	phrasesPath := filepath.Join(dir, "phrases.txt")
	snapPath := filepath.Join(dir, "phrases.lmpx")
	require.NoError(t, os.WriteFile(phrasesPath, []byte("a b\n"), 0o644))
	require.NoError(t, WriteSnapshot(snapPath, load(t, "x y\nz\n")))

	idx, err := Load(context.Background(), phrasesPath, snapPath, stream.ChainConfig{})
	require.NoError(t, err)
	require.Equal(t, uint32(2), idx.Sentences())

	idx, err = Load(context.Background(), phrasesPath, "", stream.ChainConfig{})
	require.NoError(t, err)
	require.Equal(t, uint32(1), idx.Sentences())

	_, err = Load(context.Background(), "", "", stream.ChainConfig{})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = Load(context.Background(), filepath.Join(dir, "missing.txt"), "", stream.ChainConfig{})
	require.Error(t, err)
}
