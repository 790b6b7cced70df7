package rtnl

import (
	"fmt"

	"github.com/m-lab/netlinkctl/request"
	"github.com/m-lab/netlinkctl/rtmsg"
)

// NexthopList returns every nexthop (single and group).
func (c *Conn) NexthopList() ([]*rtmsg.Nexthop, error) {
	b, err := (&rtmsg.Nexthop{}).Build()
	if err != nil {
		return nil, err
	}
	raw, err := c.dump(rtmsg.RTM_GETNEXTHOP, b)
	if err != nil {
		return nil, fmt.Errorf("rtnl: nexthop list: %w", err)
	}
	out := make([]*rtmsg.Nexthop, 0, len(raw))
	for _, rb := range raw {
		n, err := rtmsg.ParseNexthop(rb)
		if err != nil {
			return nil, fmt.Errorf("rtnl: nexthop list: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// NexthopListGroups returns only the group nexthops.
func (c *Conn) NexthopListGroups() ([]*rtmsg.Nexthop, error) {
	all, err := c.NexthopList()
	if err != nil {
		return nil, err
	}
	out := make([]*rtmsg.Nexthop, 0, len(all))
	for _, n := range all {
		if n.IsGroup() {
			out = append(out, n)
		}
	}
	return out, nil
}

// NexthopByID resolves a single nexthop by its id.
func (c *Conn) NexthopByID(id uint32) (*rtmsg.Nexthop, error) {
	req := &rtmsg.Nexthop{ID: id}
	b, err := req.Build()
	if err != nil {
		return nil, err
	}
	resp, err := c.single(rtmsg.RTM_GETNEXTHOP, request.FlagRequest, b)
	if err != nil {
		return nil, fmt.Errorf("rtnl: nexthop by id %d: %w", id, err)
	}
	return rtmsg.ParseNexthop(resp)
}

// NexthopAdd installs a new nexthop (single hop or group, per n.IsGroup()).
func (c *Conn) NexthopAdd(n *rtmsg.Nexthop) error {
	b, err := n.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWNEXTHOP, request.FlagRequest|request.FlagCreate|request.FlagExcl, b)
}

// NexthopReplace installs or replaces a nexthop.
func (c *Conn) NexthopReplace(n *rtmsg.Nexthop) error {
	b, err := n.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWNEXTHOP, request.FlagRequest|request.FlagCreate|request.FlagReplace, b)
}

// NexthopDelete removes a nexthop by id.
func (c *Conn) NexthopDelete(id uint32) error {
	req := &rtmsg.Nexthop{ID: id}
	b, err := req.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_DELNEXTHOP, request.FlagRequest, b)
}

// NexthopFlush removes every single (non-group) nexthop that no group
// references; groups and their members are left in place.
func (c *Conn) NexthopFlush() error {
	all, err := c.NexthopList()
	if err != nil {
		return err
	}
	referenced := map[uint32]bool{}
	for _, n := range all {
		for _, m := range n.Group {
			referenced[m.ID] = true
		}
	}
	for _, n := range all {
		if n.IsGroup() || referenced[n.ID] {
			continue
		}
		if err := c.NexthopDelete(n.ID); err != nil {
			return err
		}
	}
	return nil
}
