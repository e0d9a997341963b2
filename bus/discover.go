package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oceansignal/go-trios/trios"
)

// Identify queries a single address and parses the module information
// reply. It returns ErrNotDiscovered when the instrument does not answer.
func (b *Bus) Identify(ctx context.Context, addr trios.Address) (*trios.InstrumentProfile, error) {
	req := NewRequest(addr, trios.CmdQuery)
	req.Expect = ReplyModuleInfo

	f, err := b.SendAndAwait(ctx, req)
	if err != nil {
		if errors.Is(err, ErrReplyTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrNotDiscovered, addr)
		}
		return nil, err
	}

	return trios.ParseModuleInfo(f)
}

// Discover scans the bus: it queries the directly attached main module,
// collects module information replies for the discovery window, and relays
// the query to all IPS box channels when an IPS answers. Every discovered
// instrument is stored in reg, replacing stale entries with the same bus
// identity.
//
// The returned profiles are sorted by address. An empty bus yields an empty
// slice, not an error.
func (b *Bus) Discover(ctx context.Context, reg *trios.Registry) ([]*trios.InstrumentProfile, error) {
	sink := make(chan *trios.Frame, 32)
	b.infoSink.Store(&sink)
	defer b.infoSink.Store(nil)

	if err := b.sendQuery(ctx, trios.Address{0x00, 0x00, trios.ModuleMain}); err != nil {
		return nil, err
	}

	window := time.NewTimer(b.cfg.DiscoveryWindow())
	defer window.Stop()

	found := make(map[trios.BusID]*trios.InstrumentProfile)
	queriedIPS := false

collect:
	for {
		select {
		case f := <-sink:
			p, err := trios.ParseModuleInfo(f)
			if err != nil {
				b.logger.Warn("unparseable module information", "addr", f.Address(), "error", err)
				continue
			}
			if _, dup := found[p.Addr.Bus()]; dup {
				continue
			}

			b.logger.Info("instrument discovered",
				"addr", p.Addr.String(), "family", p.Family.String(), "serial", p.Serial)
			found[p.Addr.Bus()] = p

			// An IPS box relays queries to its downstream channels.
			if p.Family == trios.FamilyIPS && !queriedIPS {
				queriedIPS = true
				for _, ch := range trios.IPSChannels {
					if err := b.sendQuery(ctx, trios.Address{ch, 0x00, trios.ModuleMain}); err != nil {
						return nil, err
					}
				}
			}

		case <-window.C:
			break collect

		case <-ctx.Done():
			return nil, ctx.Err()

		case <-b.closed:
			return nil, b.err()
		}
	}

	profiles := make([]*trios.InstrumentProfile, 0, len(found))
	for _, p := range found {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].Addr.String() < profiles[j].Addr.String()
	})

	if reg != nil {
		for _, p := range profiles {
			reg.Replace(p)
		}
	}

	return profiles, nil
}

func (b *Bus) sendQuery(ctx context.Context, addr trios.Address) error {
	req := NewRequest(addr, trios.CmdQuery)
	req.Expect = ReplyNone
	req.Retries = 0

	_, err := b.SendAndAwait(ctx, req)

	return err
}
