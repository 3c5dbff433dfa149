package oracle_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/vulnlog/internal/storage/sqlite"
	"github.com/relves/vulnlog/pkg/oracle"
	"github.com/relves/vulnlog/pkg/types"
)

const (
	artifact types.Identity = "did:key:z6MkArtifact"
	admin    types.Identity = "did:key:z6MkAdmin"
	stranger types.Identity = "did:key:z6MkStranger"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	o := oracle.NewStatic(types.Deployment{Artifact: artifact, Admin: admin, Executable: true})

	ok, err := oracle.Executable(ctx, o, artifact)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = o.VerifyOwner(ctx, artifact, admin)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = o.VerifyOwner(ctx, artifact, stranger)
	require.NoError(t, err)
	assert.False(t, ok)

	o.Remove(artifact)
	_, err = o.Deployment(ctx, artifact)
	assert.ErrorIs(t, err, oracle.ErrUnknownArtifact)

	ok, err = oracle.Executable(ctx, o, artifact)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatic_NoAdminOwnsNothing(t *testing.T) {
	o := oracle.NewStatic(types.Deployment{Artifact: artifact, Executable: true})

	ok, err := o.VerifyOwner(context.Background(), artifact, "")
	require.NoError(t, err)
	assert.False(t, ok, "the null identity must never be an owner")
}

func TestStoreOracle_LoadManifest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := sqlite.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	manifest := filepath.Join(dir, "deployments.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`[
		{"artifact": "did:key:z6MkArtifact", "admin": "did:key:z6MkAdmin", "executable": true},
		{"artifact": "did:key:z6MkRetired", "admin": "did:key:z6MkAdmin", "executable": false}
	]`), 0644))

	o := oracle.NewStoreOracle(store)
	n, err := o.LoadManifest(ctx, manifest)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	d, err := o.Deployment(ctx, artifact)
	require.NoError(t, err)
	assert.NotZero(t, d.UpdatedAt)

	ok, err := oracle.Executable(ctx, o, "did:key:z6MkRetired")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = o.VerifyOwner(ctx, artifact, admin)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = o.Deployment(ctx, "did:key:z6MkMissing")
	assert.ErrorIs(t, err, oracle.ErrUnknownArtifact)
}

func TestStoreOracle_LoadManifestErrors(t *testing.T) {
	store, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	o := oracle.NewStoreOracle(store)
	_, err = o.LoadManifest(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{`), 0644))
	_, err = o.LoadManifest(context.Background(), bad)
	assert.Error(t, err)
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	backing := oracle.NewStatic(types.Deployment{Artifact: artifact, Admin: admin, Executable: true})
	c := oracle.NewCached(backing, 16, time.Minute)

	ok, err := c.VerifyOwner(ctx, artifact, admin)
	require.NoError(t, err)
	assert.True(t, ok)

	// Cached answer survives a change in the backing oracle until invalidated.
	backing.Set(types.Deployment{Artifact: artifact, Admin: stranger, Executable: true})
	ok, err = c.VerifyOwner(ctx, artifact, admin)
	require.NoError(t, err)
	assert.True(t, ok)

	c.Invalidate(artifact)
	ok, err = c.VerifyOwner(ctx, artifact, stranger)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.VerifyOwner(ctx, "did:key:z6MkMissing", admin)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCached_Expiry(t *testing.T) {
	ctx := context.Background()
	backing := oracle.NewStatic(types.Deployment{Artifact: artifact, Admin: admin, Executable: true})
	c := oracle.NewCached(backing, 16, 20*time.Millisecond)

	_, err := c.Deployment(ctx, artifact)
	require.NoError(t, err)

	backing.Remove(artifact)
	require.Eventually(t, func() bool {
		_, err := c.Deployment(ctx, artifact)
		return err != nil
	}, time.Second, 10*time.Millisecond)
}
