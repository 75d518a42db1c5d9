package cluster

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
)

// ErrNoCoordinator is returned when the directory knows no live coordinator.
var ErrNoCoordinator = errors.New("no search cluster coordinator available")

type Node struct {
	ID   string
	Addr string
}

// StaticDirectory serves a fixed set of coordinators, typically from flags
// or the config file.
type StaticDirectory struct {
	Nodes []Node
}

// NewStaticDirectory accepts peers as either "id=addr" or a bare address,
// in which case the address doubles as the ID.
func NewStaticDirectory(peers []string) *StaticDirectory {
	d := &StaticDirectory{
		Nodes: []Node{},
	}

	for _, p := range peers {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, addr, ok := strings.Cut(p, "=")
		if !ok {
			id, addr = p, p
		}
		if addr == "" {
			continue
		}
		d.Nodes = append(d.Nodes, Node{ID: id, Addr: addr})
	}
	return d
}

func (d *StaticDirectory) RandomAddress(ctx context.Context) (string, error) {
	if len(d.Nodes) == 0 {
		return "", ErrNoCoordinator
	}
	return d.Nodes[rand.IntN(len(d.Nodes))].Addr, nil
}
