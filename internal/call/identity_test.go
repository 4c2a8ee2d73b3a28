package call

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomIdentityIsStable(t *testing.T) {
	for name, gen := range map[string]func() PeerIdentity{
		"uuid":    UUIDGenerator,
		"petname": PetnameGenerator,
	} {
		t.Run(name, func(t *testing.T) {
			p := NewRandomIdentity(gen)
			first, err := p.Resolve(context.Background())
			require.NoError(t, err)
			require.NotEmpty(t, first)
			for i := 0; i < 3; i++ {
				again, err := p.Resolve(context.Background())
				require.NoError(t, err)
				assert.Equal(t, first, again)
			}
		})
	}

	a, _ := NewRandomIdentity(nil).Resolve(context.Background())
	b, _ := NewRandomIdentity(nil).Resolve(context.Background())
	assert.NotEqual(t, a, b)
}

func TestPetnameGeneratorShape(t *testing.T) {
	id := PetnameGenerator()
	parts := strings.Split(string(id), "-")
	require.Len(t, parts, 3)
	assert.Len(t, parts[2], 4)
}

func TestStaticIdentity(t *testing.T) {
	id, err := StaticIdentity("peer-1").Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PeerIdentity("peer-1"), id)

	_, err = StaticIdentity("").Resolve(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPeer)
}

func TestAssignedIdentity(t *testing.T) {
	t.Run("blocks until assigned", func(t *testing.T) {
		a := NewAssignedIdentity()
		got := make(chan PeerIdentity, 1)
		go func() {
			id, _ := a.Resolve(context.Background())
			got <- id
		}()

		select {
		case <-got:
			t.Fatal("resolved before assignment")
		case <-time.After(20 * time.Millisecond):
		}

		assert.True(t, a.Assign("relay-7"))
		select {
		case id := <-got:
			assert.Equal(t, PeerIdentity("relay-7"), id)
		case <-time.After(time.Second):
			t.Fatal("not resolved after assignment")
		}
	})

	t.Run("first assignment sticks", func(t *testing.T) {
		a := NewAssignedIdentity()
		assert.False(t, a.Assign(""))
		assert.True(t, a.Assign("one"))
		assert.True(t, a.Assign("one"))
		assert.False(t, a.Assign("two"))
		id, err := a.Resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, PeerIdentity("one"), id)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewAssignedIdentity().Resolve(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
