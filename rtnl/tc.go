package rtnl

import (
	"fmt"

	"github.com/m-lab/netlinkctl/request"
	"github.com/m-lab/netlinkctl/rtmsg"
)

// ---- Qdiscs ------------------------------------------------------------

// QdiscList returns every qdisc across all devices.
func (c *Conn) QdiscList() ([]*rtmsg.Qdisc, error) {
	return c.QdiscListForDevice(0)
}

// QdiscListForDevice returns the qdiscs attached to one device (0 for all).
func (c *Conn) QdiscListForDevice(ifindex int32) ([]*rtmsg.Qdisc, error) {
	filter := &rtmsg.Qdisc{Header: rtmsg.Tcmsg{Index: ifindex}}
	b, err := filter.Build()
	if err != nil {
		return nil, err
	}
	raw, err := c.dump(rtmsg.RTM_GETQDISC, b)
	if err != nil {
		return nil, fmt.Errorf("rtnl: qdisc list: %w", err)
	}
	out := make([]*rtmsg.Qdisc, 0, len(raw))
	for _, rb := range raw {
		q, err := rtmsg.ParseQdisc(rb)
		if err != nil {
			return nil, fmt.Errorf("rtnl: qdisc list: %w", err)
		}
		if ifindex == 0 || q.Header.Index == ifindex {
			out = append(out, q)
		}
	}
	return out, nil
}

// QdiscAdd attaches a new qdisc (fails if one is already attached there).
func (c *Conn) QdiscAdd(q *rtmsg.Qdisc) error {
	b, err := q.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWQDISC, request.FlagRequest|request.FlagCreate|request.FlagExcl, b)
}

// QdiscReplace attaches or replaces a qdisc.
func (c *Conn) QdiscReplace(q *rtmsg.Qdisc) error {
	b, err := q.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWQDISC, request.FlagRequest|request.FlagCreate|request.FlagReplace, b)
}

// QdiscDelete detaches a qdisc.
func (c *Conn) QdiscDelete(q *rtmsg.Qdisc) error {
	b, err := q.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_DELQDISC, request.FlagRequest, b)
}

// ApplyNetem attaches or replaces a netem qdisc at the given handle/parent
// on a device, a convenience wrapping rtmsg's netem codec.
func (c *Conn) ApplyNetem(ifindex int32, handle, parent uint32, opts *rtmsg.NetemOptions) error {
	options, err := opts.Encode()
	if err != nil {
		return err
	}
	q := &rtmsg.Qdisc{
		Header:  rtmsg.Tcmsg{Index: ifindex, Handle: handle, Parent: parent},
		Kind:    "netem",
		Options: options,
	}
	return c.QdiscReplace(q)
}

// RemoveNetem detaches the netem qdisc at the given handle/parent.
func (c *Conn) RemoveNetem(ifindex int32, handle, parent uint32) error {
	q := &rtmsg.Qdisc{Header: rtmsg.Tcmsg{Index: ifindex, Handle: handle, Parent: parent}, Kind: "netem"}
	return c.QdiscDelete(q)
}

// ---- Classes -------------------------------------------------------

// ClassList returns the classes attached to one device's classful qdisc.
func (c *Conn) ClassList(ifindex int32) ([]*rtmsg.Class, error) {
	filter := &rtmsg.Class{Header: rtmsg.Tcmsg{Index: ifindex}}
	b, err := filter.Build()
	if err != nil {
		return nil, err
	}
	raw, err := c.dump(rtmsg.RTM_GETTCLASS, b)
	if err != nil {
		return nil, fmt.Errorf("rtnl: class list: %w", err)
	}
	out := make([]*rtmsg.Class, 0, len(raw))
	for _, rb := range raw {
		cl, err := rtmsg.ParseClass(rb)
		if err != nil {
			return nil, fmt.Errorf("rtnl: class list: %w", err)
		}
		out = append(out, cl)
	}
	return out, nil
}

// ClassAdd creates a new class under a classful qdisc.
func (c *Conn) ClassAdd(cl *rtmsg.Class) error {
	b, err := cl.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWTCLASS, request.FlagRequest|request.FlagCreate|request.FlagExcl, b)
}

// ClassDelete removes a class.
func (c *Conn) ClassDelete(cl *rtmsg.Class) error {
	b, err := cl.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_DELTCLASS, request.FlagRequest, b)
}

// ---- Filters -----------------------------------------------------------

// FilterList returns the filters attached at a device/parent.
func (c *Conn) FilterList(ifindex int32, parent uint32) ([]*rtmsg.Filter, error) {
	filter := &rtmsg.Filter{Header: rtmsg.Tcmsg{Index: ifindex, Parent: parent}}
	b, err := filter.Build()
	if err != nil {
		return nil, err
	}
	raw, err := c.dump(rtmsg.RTM_GETTFILTER, b)
	if err != nil {
		return nil, fmt.Errorf("rtnl: filter list: %w", err)
	}
	out := make([]*rtmsg.Filter, 0, len(raw))
	for _, rb := range raw {
		f, err := rtmsg.ParseFilter(rb)
		if err != nil {
			return nil, fmt.Errorf("rtnl: filter list: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}

// FilterAdd installs a new filter.
func (c *Conn) FilterAdd(f *rtmsg.Filter) error {
	b, err := f.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWTFILTER, request.FlagRequest|request.FlagCreate|request.FlagExcl, b)
}

// FilterDelete removes a filter.
func (c *Conn) FilterDelete(f *rtmsg.Filter) error {
	b, err := f.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_DELTFILTER, request.FlagRequest, b)
}
