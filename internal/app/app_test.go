package app

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/config"
	"github.com/petervdpas/peercall/internal/signaling"
)

func TestLockPeerDirExclusive(t *testing.T) {
	dir := t.TempDir()
	unlock, err := LockPeerDir(dir)
	require.NoError(t, err)

	_, err = LockPeerDir(dir)
	assert.ErrorIs(t, err, ErrPeerDirBusy)

	unlock()
	again, err := LockPeerDir(dir)
	require.NoError(t, err)
	again()
}

func TestNormalizeLocalViewer(t *testing.T) {
	tests := []struct {
		in, listen, url string
	}{
		{":8080", "127.0.0.1:8080", "http://127.0.0.1:8080"},
		{"0.0.0.0:9000", "127.0.0.1:9000", "http://127.0.0.1:9000"},
		{" 127.0.0.1:7000 ", "127.0.0.1:7000", "http://127.0.0.1:7000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			listen, url := NormalizeLocalViewer(tt.in)
			assert.Equal(t, tt.listen, listen)
			assert.Equal(t, tt.url, url)
		})
	}
}

func TestNewIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("static", func(t *testing.T) {
		p, assigned, err := newIdentity(config.Identity{Mode: config.IdentityStatic, PeerID: "alice"})
		require.NoError(t, err)
		assert.Nil(t, assigned)
		id, err := p.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, call.PeerIdentity("alice"), id)
	})

	t.Run("petname is stable", func(t *testing.T) {
		p, _, err := newIdentity(config.Identity{Mode: config.IdentityPetname})
		require.NoError(t, err)
		a, _ := p.Resolve(ctx)
		b, _ := p.Resolve(ctx)
		assert.NotEmpty(t, a)
		assert.Equal(t, a, b)
		assert.Equal(t, 2, strings.Count(string(a), "-"), "two words plus suffix: %s", a)
	})

	t.Run("assigned", func(t *testing.T) {
		p, assigned, err := newIdentity(config.Identity{Mode: config.IdentityAssigned})
		require.NoError(t, err)
		require.NotNil(t, assigned)
		assert.Same(t, assigned, p)
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := newIdentity(config.Identity{Mode: "dns"})
		assert.Error(t, err)
	})
}

func TestNewGlare(t *testing.T) {
	assert.ErrorIs(t, newGlare("reject").ResolveGlare("b", "a"), call.ErrGlare)
	assert.ErrorIs(t, newGlare("").ResolveGlare("b", "a"), call.ErrGlare)
	assert.NoError(t, newGlare("polite").ResolveGlare("b", "a"))
}

func TestNewAcquirerReceiveOnly(t *testing.T) {
	a := newAcquirer(config.Media{ReceiveOnly: true}, nil)
	assert.IsType(t, call.ReceiveOnlyAcquirer{}, a)
}

func TestDialSignalerLoopback(t *testing.T) {
	cfg := config.Default()
	cfg.Signaling.Transport = config.TransportLoopback
	hub := signaling.NewHub()

	sig, err := dialSignaler(context.Background(), cfg, call.StaticIdentity("alice"), nil, hub)
	require.NoError(t, err)
	defer sig.Close()

	bob := hub.Join("bob")
	ch, cancel := bob.Subscribe()
	defer cancel()
	require.NoError(t, sig.Send(context.Background(), "bob", call.Offer("alice", "v=0")))
	env := <-ch
	require.NotNil(t, env.Message)
	assert.Equal(t, call.PeerIdentity("alice"), env.Message.From)
}

func TestDialSignalerAssignedOverWS(t *testing.T) {
	relay := signaling.NewRelay(func() call.PeerIdentity { return "given-name" })
	srv := httptest.NewServer(relay)
	defer srv.Close()

	cfg := config.Default()
	cfg.Identity.Mode = config.IdentityAssigned
	cfg.Signaling.URL = "ws" + strings.TrimPrefix(srv.URL, "http")

	id, assigned, err := newIdentity(cfg.Identity)
	require.NoError(t, err)
	sig, err := dialSignaler(context.Background(), cfg, id, assigned, nil)
	require.NoError(t, err)
	defer sig.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := id.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, call.PeerIdentity("given-name"), got)
}
