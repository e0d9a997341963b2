package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceansignal/go-trios/trios"
)

func TestBus_DiscoverEmptyBus(t *testing.T) {
	b, _ := newTestBus(t, WithDiscoveryWindow(200*time.Millisecond))

	reg := trios.NewRegistry()
	profiles, err := b.Discover(context.Background(), reg)
	require.NoError(t, err)
	assert.Empty(t, profiles)
	assert.Equal(t, 0, reg.Len())
}

func TestBus_DiscoverDirectInstrument(t *testing.T) {
	b, dev := newTestBus(t, WithDiscoveryWindow(300*time.Millisecond))

	go func() {
		cmd := dev.expectCommand(time.Second)
		assert.Equal(t, []byte{0x23, 0x00, 0x00, 0x80, 0xB0, 0x00, 0x00, 0x01}, cmd)

		dev.send(moduleInfoFrame(t, trios.Address{0x00, 0x00, 0x00}, 16))
	}()

	reg := trios.NewRegistry()
	profiles, err := b.Discover(context.Background(), reg)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, trios.FamilySAM, profiles[0].Family)

	got, ok := reg.Lookup(trios.BusID{0x00, 0x00})
	require.True(t, ok)
	assert.Equal(t, profiles[0], got)
}

func TestBus_DiscoverBehindIPS(t *testing.T) {
	// An IPS box answers the broadcast query; the scan then relays the
	// query to all four box channels and collects the instruments behind
	// them.
	b, dev := newTestBus(t, WithDiscoveryWindow(500*time.Millisecond))

	go func() {
		// Broadcast query.
		dev.expectCommand(time.Second)
		dev.send(moduleInfoFrame(t, trios.Address{0x00, 0x00, 0x00}, 9))

		// Channel queries: SAM on channel 1, MicroFlu on channel 2, the
		// rest empty.
		for i := 0; i < 4; i++ {
			cmd := dev.expectCommand(time.Second)
			switch cmd[1] {
			case 0x02:
				dev.send(moduleInfoFrame(t, trios.Address{0x02, 0x00, 0x00}, 16))
			case 0x04:
				dev.send(moduleInfoFrame(t, trios.Address{0x04, 0x00, 0x00}, 2))
			}
		}
	}()

	reg := trios.NewRegistry()
	profiles, err := b.Discover(context.Background(), reg)
	require.NoError(t, err)
	require.Len(t, profiles, 3)

	// Sorted by address: the IPS itself, then its channels.
	assert.Equal(t, trios.FamilyIPS, profiles[0].Family)
	assert.Equal(t, trios.FamilySAM, profiles[1].Family)
	assert.Equal(t, trios.FamilyMicroFlu, profiles[2].Family)

	assert.Equal(t, 3, reg.Len())
	sam, ok := reg.Lookup(trios.BusID{0x02, 0x00})
	require.True(t, ok)
	assert.Equal(t, trios.FamilySAM, sam.Family)
}

func TestBus_DiscoverDuplicateReplies(t *testing.T) {
	b, dev := newTestBus(t, WithDiscoveryWindow(300*time.Millisecond))

	go func() {
		dev.expectCommand(time.Second)
		// The same instrument answers twice; only one profile results.
		dev.send(moduleInfoFrame(t, trios.Address{0x00, 0x00, 0x00}, 16))
		dev.send(moduleInfoFrame(t, trios.Address{0x00, 0x00, 0x00}, 16))
	}()

	profiles, err := b.Discover(context.Background(), trios.NewRegistry())
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
}

func TestBus_DiscoverCancelled(t *testing.T) {
	b, _ := newTestBus(t, WithDiscoveryWindow(5*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := b.Discover(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
