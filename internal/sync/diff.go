package sync

import (
	"strings"

	"cloudia/internal/record"
)

// Op is what has to happen to one record to make remote match local.
type Op int

const (
	Same Op = iota
	Update
	Create
	Delete
)

func (o Op) String() string {
	switch o {
	case Update:
		return "update"
	case Create:
		return "create"
	case Delete:
		return "delete"
	}
	return "same"
}

// Change pairs the local and remote versions of one key. Local is nil for
// deletes, Remote is nil for creates.
type Change struct {
	Op     Op
	Key    string
	Local  record.Record
	Remote record.Record
}

// Options tune Diff.
type Options struct {
	// LocalKey and RemoteKey extract the matching key. Records with an empty
	// key are left out.
	LocalKey  func(record.Record) string
	RemoteKey func(record.Record) string

	// NeedsUpdate reports whether a matched pair differs. Defaults to
	// comparing canonical JSON.
	NeedsUpdate func(local, remote record.Record) bool
}

// Diff compares the local backup with the remote records.
// Returns, in this order:
// - remote records in remote order, as Delete (missing locally), Update or Same
// - local records missing remotely, in local order, as Create
// When a key repeats on one side the last record wins.
func Diff(local, remote []record.Record, opts Options) []Change {
	localKey := opts.LocalKey
	if localKey == nil {
		localKey = KeyOr("KeyId")
	}
	remoteKey := opts.RemoteKey
	if remoteKey == nil {
		remoteKey = KeyOr("KeyId")
	}
	needsUpdate := opts.NeedsUpdate
	if needsUpdate == nil {
		needsUpdate = func(l, r record.Record) bool { return !record.Equal(l, r) }
	}

	localOrder, localByID := index(local, localKey)
	remoteOrder, remoteByID := index(remote, remoteKey)

	var out []Change
	for _, id := range remoteOrder {
		rc := remoteByID[id]
		lc, ok := localByID[id]
		switch {
		case !ok:
			out = append(out, Change{Op: Delete, Key: id, Remote: rc})
		case needsUpdate(lc, rc):
			out = append(out, Change{Op: Update, Key: id, Local: lc, Remote: rc})
		default:
			out = append(out, Change{Op: Same, Key: id, Local: lc, Remote: rc})
		}
	}
	for _, id := range localOrder {
		if _, ok := remoteByID[id]; ok {
			continue
		}
		out = append(out, Change{Op: Create, Key: id, Local: localByID[id]})
	}
	return out
}

func index(recs []record.Record, key func(record.Record) string) ([]string, map[string]record.Record) {
	var order []string
	byID := map[string]record.Record{}
	for _, r := range recs {
		id := strings.TrimSpace(key(r))
		if id == "" {
			continue
		}
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = r
	}
	return order, byID
}

// KeyOr returns a key function yielding the first non-empty field.
func KeyOr(fields ...string) func(record.Record) string {
	return func(r record.Record) string {
		vals := make([]string, 0, len(fields))
		for _, f := range fields {
			vals = append(vals, r.Str(f))
		}
		return firstNonEmpty(vals...)
	}
}

// Count tallies changes by op.
func Count(changes []Change) map[Op]int {
	out := map[Op]int{}
	for _, c := range changes {
		out[c.Op]++
	}
	return out
}

// EqualIgnoring compares two records leaving out the given fields, e.g.
// server-maintained timestamps.
func EqualIgnoring(a, b record.Record, fields ...string) bool {
	return record.Equal(a.Without(fields...), b.Without(fields...))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
