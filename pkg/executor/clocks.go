// Per-channel virtual time
//
// Every channel owns a clock counting FPGA cycles since the start of the
// program. Statements advance the clocks of the channels they touch; align
// moves a group of clocks forward to the latest of them.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package executor

import (
	"sort"

	"ssnmr-sequencer/pkg/clock"
)

type channelClocks struct {
	names []string
	now   map[string]clock.Cycles
}

func newChannelClocks(names []string) *channelClocks {
	c := &channelClocks{
		names: append([]string(nil), names...),
		now:   make(map[string]clock.Cycles, len(names)),
	}
	sort.Strings(c.names)
	for _, n := range c.names {
		c.now[n] = 0
	}
	return c
}

// resolve expands an empty channel list to every channel.
func (c *channelClocks) resolve(channels []string) []string {
	if len(channels) == 0 {
		return c.names
	}
	return channels
}

// Time returns the clock of one channel.
func (c *channelClocks) Time(channel string) clock.Cycles {
	return c.now[channel]
}

// Dwell advances each listed channel by d.
func (c *channelClocks) Dwell(d clock.Cycles, channels ...string) {
	if d < 0 {
		d = 0
	}
	for _, ch := range c.resolve(channels) {
		c.now[ch] += d
	}
}

// Align moves the listed clocks to the latest of them and returns it.
func (c *channelClocks) Align(channels ...string) clock.Cycles {
	channels = c.resolve(channels)
	latest := c.Latest(channels...)
	for _, ch := range channels {
		c.now[ch] = latest
	}
	return latest
}

// Latest returns the largest clock among the listed channels.
func (c *channelClocks) Latest(channels ...string) clock.Cycles {
	var latest clock.Cycles
	for _, ch := range c.resolve(channels) {
		if t := c.now[ch]; t > latest {
			latest = t
		}
	}
	return latest
}

// Earliest returns the smallest clock over all channels.
func (c *channelClocks) Earliest() clock.Cycles {
	if len(c.names) == 0 {
		return 0
	}
	earliest := c.now[c.names[0]]
	for _, ch := range c.names[1:] {
		if t := c.now[ch]; t < earliest {
			earliest = t
		}
	}
	return earliest
}
