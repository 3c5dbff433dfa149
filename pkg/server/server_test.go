package server_test

import (
	"testing"

	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/stretchr/testify/require"

	"github.com/relves/vulnlog/internal/storage/sqlite"
	"github.com/relves/vulnlog/pkg/ledger"
	"github.com/relves/vulnlog/pkg/oracle"
	"github.com/relves/vulnlog/pkg/server"
)

func TestNewServerRequiresParameters(t *testing.T) {
	_, err := server.NewServer()
	require.Error(t, err)
	require.Contains(t, err.Error(), "signer is required")

	s, err := signer.Generate()
	require.NoError(t, err)
	_, err = server.NewServer(server.WithSigner(s))
	require.Error(t, err)
	require.Contains(t, err.Error(), "ledger is required")
}

func TestNewServer(t *testing.T) {
	store, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	l, err := ledger.NewService(ledger.Config{Store: store, Oracle: oracle.NewStatic()})
	require.NoError(t, err)

	s, err := signer.Generate()
	require.NoError(t, err)

	srv, err := server.NewServer(
		server.WithSigner(s),
		server.WithLedger(l),
		server.WithValidator(nil),
	)
	require.NoError(t, err)
	require.Equal(t, s.DID().String(), srv.ID().DID().String())
}
