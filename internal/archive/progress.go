package archive

import (
	"strconv"
	"strings"
)

// EventKind classifies a progress line from the dump/restore tools.
type EventKind int

const (
	Started EventKind = iota
	Advanced
	Completed
)

func (k EventKind) String() string {
	switch k {
	case Started:
		return "started"
	case Advanced:
		return "advanced"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Progress is one parsed progress line. Current and Total are document
// counts for dumps and bytes for restores.
type Progress struct {
	Kind       EventKind
	Collection string
	Current    uint64
	Total      uint64
	Percent    float64
	// Documents is set on Completed.
	Documents uint64
}

// The tools log "<timestamp>\t<message>"; only the message is parsed.
func message(line string) (string, bool) {
	_, msg, ok := strings.Cut(line, "\t")
	return msg, ok
}

// collectionOf strips the database prefix from "db.collection".
// Collection names may themselves contain dots.
func collectionOf(ns string) string {
	if _, coll, ok := strings.Cut(ns, "."); ok {
		return coll
	}
	return ns
}

// ParseDumpLine parses mongodump stderr, e.g.
//
//	2026-02-01T17:46:07.737+0400	writing shop.orders to /out/shop/orders.bson
//	2026-02-01T17:46:07.928+0400	[....]  shop.orders  101/66985  (0.2%)
//	2026-02-01T17:46:10.550+0400	done dumping shop.orders (66985 documents)
func ParseDumpLine(line string) (Progress, bool) {
	msg, ok := message(line)
	if !ok {
		return Progress{}, false
	}
	if rest, ok := strings.CutPrefix(msg, "writing "); ok {
		ns, _, _ := strings.Cut(rest, " to ")
		return Progress{Kind: Started, Collection: collectionOf(ns)}, true
	}
	if p, ok := parseBar(msg, parseCount); ok {
		return p, true
	}
	if rest, ok := strings.CutPrefix(msg, "done dumping "); ok {
		return parseDone(rest)
	}
	return Progress{}, false
}

// ParseRestoreLine parses mongorestore stderr, e.g.
//
//	2026-02-01T17:46:51.029+0400	restoring shop.orders from /in/shop/orders.bson
//	2026-02-01T17:46:53.489+0400	[####....]  shop.orders  6.46MB/34.8MB  (18.6%)
//	2026-02-01T17:46:55.906+0400	finished restoring shop.orders (500 documents, 0 failures)
func ParseRestoreLine(line string) (Progress, bool) {
	msg, ok := message(line)
	if !ok {
		return Progress{}, false
	}
	if rest, ok := strings.CutPrefix(msg, "restoring "); ok {
		ns, _, _ := strings.Cut(rest, " from ")
		return Progress{Kind: Started, Collection: collectionOf(ns)}, true
	}
	if p, ok := parseBar(msg, parseSize); ok {
		return p, true
	}
	if rest, ok := strings.CutPrefix(msg, "finished restoring "); ok {
		return parseDone(rest)
	}
	return Progress{}, false
}

func parseBar(msg string, amount func(string) (uint64, bool)) (Progress, bool) {
	if !strings.HasPrefix(msg, "[") || !strings.Contains(msg, "/") {
		return Progress{}, false
	}
	parts := strings.Fields(msg)
	if len(parts) < 4 {
		return Progress{}, false
	}
	cur, total, ok := strings.Cut(parts[2], "/")
	if !ok {
		return Progress{}, false
	}
	c, ok1 := amount(cur)
	t, ok2 := amount(total)
	if !ok1 || !ok2 {
		return Progress{}, false
	}
	pct, _ := strconv.ParseFloat(strings.TrimSuffix(strings.TrimPrefix(parts[3], "("), "%)"), 64)
	return Progress{
		Kind:       Advanced,
		Collection: collectionOf(parts[1]),
		Current:    c,
		Total:      t,
		Percent:    pct,
	}, true
}

// parseDone reads "db.coll (N documents...)".
func parseDone(rest string) (Progress, bool) {
	ns, counts, ok := strings.Cut(rest, " (")
	if !ok {
		return Progress{}, false
	}
	fields := strings.Fields(counts)
	if len(fields) == 0 {
		return Progress{}, false
	}
	n, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Progress{}, false
	}
	return Progress{Kind: Completed, Collection: collectionOf(ns), Documents: n}, true
}

func parseCount(s string) (uint64, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	return n, err == nil
}

// parseSize reads sizes such as "6.46MB" or "455KB" as bytes.
func parseSize(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	mult := 1.0
	for _, unit := range []struct {
		suffix string
		mult   float64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			s = strings.TrimSuffix(s, unit.suffix)
			mult = unit.mult
			break
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return uint64(n * mult), true
}
