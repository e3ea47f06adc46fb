package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/lm-phrase-filter/pkg/errors"
)

const model = `\data\
ngram 1=4
ngram 2=2

\1-grams:
-1.0	<unk>	0
-1.0	<s>	-0.5
-1.0	cat	-0.3
-1.0	fish	-0.3

\2-grams:
-0.5	<s> cat
-0.5	cat fish

\end\
`

func testConfig(t *testing.T, phrases string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "phrases.txt")
	require.NoError(t, os.WriteFile(path, []byte(phrases), 0o644))
	cfg.Filter.PhrasesPath = path
	cfg.Filter.BlockSize = 16
	cfg.Filter.Blocks = 2
	return cfg
}

func TestRunFiltersAndPatchesHeader(t *testing.T) {
	cfg := testConfig(t, "the cat sat\n")
	dir := t.TempDir()
	in := filepath.Join(dir, "model.arpa")
	out := filepath.Join(dir, "filtered.arpa")
	require.NoError(t, os.WriteFile(in, []byte(model), 0o644))

	require.NoError(t, run(context.Background(), cfg, in, out, nil))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, `\data\
ngram 1=00000000000000000003
ngram 2=00000000000000000001

\1-grams:
-1.0	<unk>	0
-1.0	<s>	-0.5
-1.0	cat	-0.3

\2-grams:
-0.5	<s> cat

\end\
`, string(got))
}

func TestRunRejectsMalformedModel(t *testing.T) {
	cfg := testConfig(t, "the cat\n")
	dir := t.TempDir()
	in := filepath.Join(dir, "model.arpa")
	require.NoError(t, os.WriteFile(in, []byte("not a model\n"), 0o644))

	err := run(context.Background(), cfg, in, filepath.Join(dir, "out.arpa"), nil)
	require.ErrorIs(t, err, apperrors.ErrMalformedARPA)
	require.Equal(t, apperrors.ExitBadInput, apperrors.ExitCode(err))
}
