package authstate

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// session.dev_mode was renamed to session.dev_identity; make sure the old
// key does not creep back in.
func TestNoLegacyDevModeKey(t *testing.T) {
	key := "session." + "dev_mode"

	root, err := os.Getwd()
	require.NoError(t, err)

	var matches []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			switch {
			case d.Name() == ".git", d.Name() == "vendor", d.Name() == "testdata":
				return filepath.SkipDir
			case strings.HasPrefix(d.Name(), "_"):
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if bytes.Contains(data, []byte(key)) {
			matches = append(matches, path)
		}
		return nil
	})
	require.NoError(t, err)
	require.Empty(t, matches)
}

type gateStub struct {
	enabled bool
	err     error
	calls   []string
}

func (s *gateStub) Enabled(ctx context.Context, key string, opts ...gate.ResolveOption) (bool, error) {
	s.calls = append(s.calls, key)
	return s.enabled, s.err
}

func TestFeatureEnabled(t *testing.T) {
	ctx := context.Background()

	t.Run("nil gate means no veto", func(t *testing.T) {
		enabled, err := featureEnabled(ctx, nil, FeatureSessionMonitor)
		require.NoError(t, err)
		assert.True(t, enabled)
	})

	t.Run("gate answer is honored", func(t *testing.T) {
		enabled, err := featureEnabled(ctx, &gateStub{enabled: true}, FeatureSessionMonitor)
		require.NoError(t, err)
		assert.True(t, enabled)

		enabled, err = featureEnabled(ctx, &gateStub{enabled: false}, FeatureSessionMonitor)
		require.NoError(t, err)
		assert.False(t, enabled)
	})

	t.Run("gate errors fail open", func(t *testing.T) {
		enabled, err := featureEnabled(ctx, &gateStub{err: assert.AnError}, FeatureSessionMonitor)
		require.Error(t, err)
		assert.True(t, enabled, "a broken gate backend must not disable the session")

		var richErr *goerrors.Error
		require.True(t, goerrors.As(err, &richErr))
		assert.Equal(t, goerrors.CategoryAuthz, richErr.Category)
	})
}

func TestRequireDevIdentityGate(t *testing.T) {
	ctx := context.Background()

	t.Run("enabled gate allows", func(t *testing.T) {
		stubGate := &gateStub{enabled: true}
		require.NoError(t, requireDevIdentityGate(ctx, stubGate))
		assert.Equal(t, []string{FeatureSessionDevIdentity}, stubGate.calls)
	})

	t.Run("disabled gate vetoes with the sentinel", func(t *testing.T) {
		err := requireDevIdentityGate(ctx, &gateStub{enabled: false})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDevIdentityDisabled)
	})

	t.Run("gate failure surfaces as a structured error", func(t *testing.T) {
		err := requireDevIdentityGate(ctx, &gateStub{err: assert.AnError})
		require.Error(t, err)

		var richErr *goerrors.Error
		require.True(t, goerrors.As(err, &richErr))
		assert.Equal(t, goerrors.CategoryAuthz, richErr.Category)
	})
}
