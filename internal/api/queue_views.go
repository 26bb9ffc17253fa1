package api

import (
	"slices"
	"time"
)

// SortJobsNewestFirst orders jobs by CreatedAt descending, breaking ties by
// sequence descending.
func SortJobsNewestFirst(items []JobItem) []JobItem {
	if len(items) == 0 {
		return nil
	}
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b JobItem) int {
		ta := parseJobTime(a.CreatedAt)
		tb := parseJobTime(b.CreatedAt)
		if c := tb.Compare(ta); c != 0 {
			return c
		}
		switch {
		case a.Seq > b.Seq:
			return -1
		case a.Seq < b.Seq:
			return 1
		}
		return 0
	})
	return sorted
}

func parseJobTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

// ParseJobTime exposes job timestamp parsing for consumers that need display formatting.
func ParseJobTime(value string) time.Time {
	return parseJobTime(value)
}

// AllJobs flattens a list response into running then queued order.
func AllJobs(resp QueueListResponse) []JobItem {
	out := make([]JobItem, 0, len(resp.Running)+len(resp.Queued))
	out = append(out, resp.Running...)
	return append(out, resp.Queued...)
}
