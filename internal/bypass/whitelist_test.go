package bypass

import (
	"net"
	"sync"
	"testing"

	"github.com/edugate/edugate/internal/config"
	"github.com/edugate/edugate/internal/gateerrors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhitelistAddRemove(t *testing.T) {
	wl, err := NewWhitelist(nil, logrus.New())
	require.NoError(t, err)

	require.NoError(t, wl.Add(Entry{Address: "192.0.2.1"}))
	_, ok := wl.Contains(net.ParseIP("192.0.2.1"))
	assert.True(t, ok)

	t.Run("duplicate add is rejected", func(t *testing.T) {
		err := wl.Add(Entry{Address: "192.0.2.1"})
		assert.ErrorIs(t, err, gateerrors.ErrWhitelistEntryExists)
	})

	t.Run("remove unknown entry", func(t *testing.T) {
		err := wl.Remove("198.51.100.1")
		assert.ErrorIs(t, err, gateerrors.ErrWhitelistEntryNotFound)
	})

	require.NoError(t, wl.Remove("192.0.2.1"))
	_, ok = wl.Contains(net.ParseIP("192.0.2.1"))
	assert.False(t, ok)
}

func TestWhitelistInvalidAddress(t *testing.T) {
	wl, err := NewWhitelist(nil, logrus.New())
	require.NoError(t, err)

	assert.ErrorIs(t, wl.Add(Entry{Address: "not-an-ip"}), gateerrors.ErrInvalidAddress)
	assert.ErrorIs(t, wl.Add(Entry{Address: "10.0.0.0/99"}), gateerrors.ErrInvalidAddress)
	assert.ErrorIs(t, wl.Add(Entry{Address: ""}), gateerrors.ErrInvalidAddress)
}

func TestWhitelistStaticSeedFailsFast(t *testing.T) {
	_, err := NewWhitelist([]config.WhitelistEntry{{Address: "bogus"}}, logrus.New())
	assert.Error(t, err)
}

func TestWhitelistDefaults(t *testing.T) {
	wl, err := NewWhitelist([]config.WhitelistEntry{{Address: "10.0.0.1"}}, logrus.New())
	require.NoError(t, err)

	entries := wl.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, CategoryInfrastructure, entries[0].Category)
	assert.Equal(t, SourceStatic, entries[0].Source)

	require.NoError(t, wl.Add(Entry{Address: "10.0.0.2"}))
	entries = wl.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, SourceRuntime, entries[1].Source)
	assert.Equal(t, CategoryOperator, entries[1].Category)
}

func TestWhitelistConcurrentReadersAndWriters(t *testing.T) {
	wl, err := NewWhitelist([]config.WhitelistEntry{{Address: "10.0.0.0/8"}}, logrus.New())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				wl.Contains(net.ParseIP("10.1.2.3"))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			_ = wl.Add(Entry{Address: "192.0.2.77"})
			_ = wl.Remove("192.0.2.77")
		}
	}()
	wg.Wait()

	_, ok := wl.Contains(net.ParseIP("10.1.2.3"))
	assert.True(t, ok)
}
