// Package domain defines the core persistence models for the application.
// This file implements ReminderOffsets, the column type storing a condition's
// minutes-before-deadline reminder offsets.
package domain

import (
	"database/sql/driver"
	"errors"
	"sort"
	"strconv"
	"strings"
)

// ErrNegativeOffset rejects reminder offsets below zero.
var ErrNegativeOffset = errors.New("reminder offset must be non-negative")

// ReminderOffsets is an ordered set of reminder offsets in minutes before the
// deadline. It is persisted as a comma-separated TEXT column and is always
// normalized to descending order with duplicates removed, which is the order
// the schedule generator consumes.
type ReminderOffsets []int

// NewReminderOffsets normalizes raw offsets: negatives are rejected by
// returning an error, duplicates are dropped, and the result is sorted
// descending (furthest from the deadline first).
func NewReminderOffsets(raw []int) (ReminderOffsets, error) {
	seen := make(map[int]struct{}, len(raw))
	out := make(ReminderOffsets, 0, len(raw))
	for _, m := range raw {
		if m < 0 {
			return nil, ErrNegativeOffset
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out, nil
}

// Value implements driver.Valuer, serializing to "1440,360,60,15".
func (o ReminderOffsets) Value() (driver.Value, error) {
	if len(o) == 0 {
		return "", nil
	}
	parts := make([]string, len(o))
	for i, m := range o {
		parts[i] = strconv.Itoa(m)
	}
	return strings.Join(parts, ","), nil
}

// Scan implements sql.Scanner for TEXT and BLOB column representations.
func (o *ReminderOffsets) Scan(value any) error {
	if value == nil {
		*o = nil
		return nil
	}
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return errors.New("invalid reminder offsets column type")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*o = nil
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(ReminderOffsets, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return errors.New("malformed reminder offsets column")
		}
		out = append(out, n)
	}
	*o = out
	return nil
}
