package rtlink

import (
	"context"
	"io"

	"github.com/hkwi/nlink"
)

// List collects the whole result of c.
func List(ctx context.Context, hub *nlink.RtHub, c Criteria) ([]nlink.LinkMessage, error) {
	links, err := Get(hub, c)
	if err != nil {
		return nil, err
	}
	defer links.Close()

	var ret []nlink.LinkMessage
	for {
		if link, err := links.Next(ctx); err == io.EOF {
			return ret, nil
		} else if err != nil {
			return ret, err
		} else {
			ret = append(ret, link)
		}
	}
}
