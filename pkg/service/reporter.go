package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/irctrakz/netbench/pkg/logging"
)

// RunReporter logs a metrics snapshot every interval until ctx is done.
// format is "json" or "text".
func RunReporter(ctx context.Context, c *Collector, interval time.Duration, format string) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		DumpMetrics(c, format)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DumpMetrics logs one snapshot.
func DumpMetrics(c *Collector, format string) {
	logging.Infof("metrics: %s", FormatSnapshot(c.Snapshot(), format))
}

// FormatSnapshot renders snap as a single JSON object or a single text line.
func FormatSnapshot(snap Snapshot, format string) string {
	if strings.EqualFold(format, "json") {
		b, err := json.Marshal(snap)
		if err != nil {
			return fmt.Sprintf("marshal failed: %v", err)
		}
		return string(b)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "ts=%s status=%s", snap.Timestamp, snap.Status)

	names := make([]string, 0, len(snap.Components))
	for name := range snap.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, " | %s:", name)
		writeCounters(&sb, snap.Components[name])
	}

	fmt.Fprintf(&sb, " | rt: heap=%s gor=%d gc=%d",
		humanize.IBytes(snap.RT["heap_alloc"]), snap.RT["goroutines"], snap.RT["num_gc"])
	return sb.String()
}

// writeCounters writes k=v pairs sorted by key. Byte counters are humanized.
func writeCounters(sb *strings.Builder, counters map[string]uint64) {
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := counters[k]
		if strings.HasPrefix(k, "bytes_") {
			fmt.Fprintf(sb, " %s=%s", k, humanize.IBytes(v))
			continue
		}
		fmt.Fprintf(sb, " %s=%d", k, v)
	}
}
