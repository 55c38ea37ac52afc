package rtlink

import (
	"context"

	"github.com/hkwi/nlink"
	"github.com/pkg/errors"
)

func one(ctx context.Context, hub *nlink.RtHub, c Criteria) (nlink.LinkMessage, error) {
	links, err := List(ctx, hub, c)
	if err != nil {
		return nlink.LinkMessage{}, err
	}
	switch len(links) {
	case 0:
		return nlink.LinkMessage{}, errors.Wrap(nlink.NLE_OBJ_NOTFOUND, "response empty")
	case 1:
		return links[0], nil
	default:
		return nlink.LinkMessage{}, errors.Wrapf(nlink.NLE_PROTO_MISMATCH, "%d links match", len(links))
	}
}

func GetByIndex(ctx context.Context, hub *nlink.RtHub, index uint32) (nlink.LinkMessage, error) {
	return one(ctx, hub, MatchIndex(index))
}

func GetByName(ctx context.Context, hub *nlink.RtHub, name string) (nlink.LinkMessage, error) {
	link, err := one(ctx, hub, MatchName(name))
	if err != nil {
		return link, err
	}
	if got, _ := link.Name(); got != name {
		return link, errors.Wrapf(nlink.NLE_PROTO_MISMATCH, "asked for %q, got %q", name, got)
	}
	return link, nil
}

func GetNameByIndex(ctx context.Context, hub *nlink.RtHub, index uint32) (string, error) {
	link, err := one(ctx, hub, MatchIndex(index))
	if err != nil {
		return "", err
	}
	if uint32(link.Index) != index {
		return "", errors.Wrapf(nlink.NLE_PROTO_MISMATCH, "asked for index %d, got %d", index, link.Index)
	}
	if name, ok := link.Name(); ok {
		return name, nil
	}
	return "", errors.Wrapf(nlink.NLE_OBJ_NOTFOUND, "link %d has no IFLA_IFNAME", index)
}
