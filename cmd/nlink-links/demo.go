package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hkwi/nlink"
	"github.com/hkwi/nlink/rtlink"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type query struct {
	name  string
	title string
	run   func(context.Context, *nlink.RtHub, io.Writer) error
}

func demoQueries(conf *Config) []query {
	return []query{
		{
			name:  "index",
			title: fmt.Sprintf("*** retrieving link with index %d ***", conf.Index),
			run: func(ctx context.Context, hub *nlink.RtHub, w io.Writer) error {
				return getLinkByIndex(ctx, hub, w, conf.Index)
			},
		},
		{
			name:  "name",
			title: fmt.Sprintf("*** retrieving link named %q ***", conf.Name),
			run: func(ctx context.Context, hub *nlink.RtHub, w io.Writer) error {
				return getLinkByName(ctx, hub, w, conf.Name)
			},
		},
		{
			name:  "dump",
			title: "*** dumping links ***",
			run:   dumpLinks,
		},
		{
			name: "bridge",
			run:  dumpBridgeFilterInfo,
		},
	}
}

// runQueries runs the queries concurrently over one hub and writes their
// output in query order. A failed query is logged; only losing the
// connection fails the whole run.
func runQueries(ctx context.Context, hub *nlink.RtHub, conf *Config, w io.Writer, queries []query) error {
	outs := make([]bytes.Buffer, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			qctx := gctx
			if conf.Timeout > 0 {
				var cancel context.CancelFunc
				qctx, cancel = context.WithTimeout(gctx, conf.timeout())
				defer cancel()
			}

			if q.title != "" {
				fmt.Fprintln(&outs[i], q.title)
			}
			if err := q.run(qctx, hub, &outs[i]); err != nil {
				if errors.Is(err, nlink.NLE_BAD_SOCK) {
					return err
				}
				slog.Error("query failed", "query", q.name, "err", err)
			}
			return nil
		})
	}
	err := g.Wait()

	for i := range outs {
		if _, werr := w.Write(outs[i].Bytes()); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// expectEnd checks that a single-match query has no further record.
func expectEnd(ctx context.Context, links *rtlink.Links) error {
	if _, err := links.Next(ctx); err == nil {
		return errors.Wrap(nlink.NLE_PROTO_MISMATCH, "more than one link")
	} else if err != io.EOF {
		return err
	}
	return nil
}

func getLinkByIndex(ctx context.Context, hub *nlink.RtHub, w io.Writer, index uint32) error {
	links, err := rtlink.Get(hub, rtlink.MatchIndex(index))
	if err != nil {
		return err
	}
	defer links.Close()

	link, err := links.Next(ctx)
	if err == io.EOF {
		fmt.Fprintf(w, "no link with index %d found\n", index)
		return nil
	} else if err != nil {
		return err
	}
	if err := expectEnd(ctx, links); err != nil {
		return err
	}

	if name, ok := link.Name(); ok {
		fmt.Fprintf(w, "found link with index %d (name = %s)\n", index, name)
	} else {
		fmt.Fprintf(w, "found link with index %d, but this link does not have a name\n", index)
	}
	return nil
}

func getLinkByName(ctx context.Context, hub *nlink.RtHub, w io.Writer, name string) error {
	links, err := rtlink.Get(hub, rtlink.MatchName(name))
	if err != nil {
		return err
	}
	defer links.Close()

	if _, err := links.Next(ctx); err == io.EOF {
		fmt.Fprintf(w, "no link %s found\n", name)
		return nil
	} else if err != nil {
		return err
	}
	if err := expectEnd(ctx, links); err != nil {
		return err
	}
	fmt.Fprintf(w, "found link %s\n", name)
	return nil
}

func dumpLinks(ctx context.Context, hub *nlink.RtHub, w io.Writer) error {
	links, err := rtlink.Get(hub, rtlink.DumpAll())
	if err != nil {
		return err
	}
	defer links.Close()

	for {
		link, err := links.Next(ctx)
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		if name, ok := link.Name(); ok {
			fmt.Fprintf(w, "found link %d (%s) [%s]\n", link.Index, name, rtlink.IFF(link.Flags))
		} else {
			fmt.Fprintf(w, "found link %d, but the link has no name\n", link.Index)
		}
	}
	if n := links.Skipped(); n > 0 {
		slog.Warn("links skipped", "count", n)
	}
	return nil
}

func dumpBridgeFilterInfo(ctx context.Context, hub *nlink.RtHub, w io.Writer) error {
	links, err := rtlink.Get(hub, rtlink.BridgeVlanCriteria())
	if err != nil {
		return err
	}
	defer links.Close()

	for {
		link, err := links.Next(ctx)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if _, ok := link.AfSpecBridge(); !ok {
			continue
		}
		vlans, err := link.BridgeVlans()
		if err != nil {
			slog.Warn("bad bridge vlan info", "index", link.Index, "err", err)
			continue
		}
		fmt.Fprintf(w, "found interface %d with bridge vlans %+v\n", link.Index, vlans)
	}
}
