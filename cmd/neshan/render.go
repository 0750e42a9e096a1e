package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/1995parham/neshan-go/cmd/neshan/ui"
	"github.com/1995parham/neshan-go/internal/store"
	"github.com/1995parham/neshan-go/internal/usage"
	"github.com/1995parham/neshan-go/pkg/neshan"
)

var styles = ui.DefaultStyles()

func formatMeters(m float64) string {
	if m >= 1000 {
		return strconv.FormatFloat(m/1000, 'f', 1, 64) + " km"
	}
	return strconv.FormatFloat(m, 'f', 0, 64) + " m"
}

func formatSeconds(s float64) string {
	return (time.Duration(s) * time.Second).String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func renderRoutes(routes *neshan.Routes, showSteps bool) string {
	if len(routes.Routes) == 0 {
		return styles.Warning.Render("no route found") + "\n"
	}

	var sb strings.Builder
	for i, r := range routes.Routes {
		sb.WriteString(styles.Title.Render(fmt.Sprintf("Route %d", i+1)) + "\n")
		sb.WriteString(styles.Field("Distance", formatMeters(r.Distance())))
		sb.WriteString(styles.Field("Duration", formatSeconds(r.Duration())))
		for _, leg := range r.Legs {
			sb.WriteString(styles.Field("Via", leg.Summary))
			if !showSteps {
				continue
			}
			for j, step := range leg.Steps {
				sb.WriteString(styles.Muted.Render(fmt.Sprintf("  %2d. ", j+1)))
				sb.WriteString(styles.Body.Render(step.Instruction))
				if step.Distance.Text != "" {
					sb.WriteString(styles.Muted.Render(" (" + step.Distance.Text + ")"))
				}
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderAddress(p neshan.Point, addr *neshan.PostalAddress) string {
	var sb strings.Builder
	sb.WriteString(styles.Title.Render(p.String()) + "\n")
	sb.WriteString(styles.Field("Address", addr.FormattedAddress))
	sb.WriteString(styles.Field("Route", addr.RouteName))
	sb.WriteString(styles.Field("Neighbourhood", deref(addr.Neighbourhood)))
	sb.WriteString(styles.Field("Place", deref(addr.Place)))
	sb.WriteString(styles.Field("City", addr.City))
	sb.WriteString(styles.Field("State", addr.State))
	sb.WriteString(styles.Field("Zone", deref(addr.MunicipalityZone)))
	sb.WriteString(styles.Field("Traffic zone", yesNo(addr.InTrafficZone)))
	sb.WriteString(styles.Field("Odd-even zone", yesNo(addr.InOddEvenZone)))
	return sb.String()
}

func renderBatch(entries []batchEntry) string {
	table := ui.NewSimpleTable(fmt.Sprintf("%d points", len(entries)), "point", "address", "city")
	for _, e := range entries {
		var address, city string
		if e.Address != nil {
			address, city = e.Address.FormattedAddress, e.Address.City
		}
		table.AddRow(e.Point.String(), address, city)
	}
	return table.View(styles)
}

func renderSearch(term string, res *neshan.SearchResult) string {
	if len(res.Items) == 0 {
		return styles.Warning.Render(fmt.Sprintf("no results for %q", term)) + "\n"
	}
	table := ui.NewSimpleTable(fmt.Sprintf("%d results for %q", res.Count, term), "title", "address", "type", "location")
	for _, item := range res.Items {
		table.AddRow(item.Title, item.Address, item.Type, item.Location.Point().String())
	}
	return table.View(styles)
}

func renderGeocode(address string, res *neshan.GeocodeResult) string {
	var sb strings.Builder
	sb.WriteString(styles.Title.Render(address) + "\n")
	sb.WriteString(styles.Field("Status", res.Status))
	sb.WriteString(styles.Field("Location", res.Location.Point().String()))
	return sb.String()
}

func renderMatrix(m *neshan.DistanceMatrix, origins, destinations []neshan.Point) string {
	table := ui.NewSimpleTable("Distance matrix", "origin", "destination", "distance", "duration", "status").
		Numeric("distance", "duration")
	for i, o := range origins {
		for j, d := range destinations {
			el, ok := m.Element(i, j)
			if !ok {
				table.AddRow(o.String(), d.String(), "", "", "missing")
				continue
			}
			table.AddRow(o.String(), d.String(), formatMeters(el.Distance.Value), formatSeconds(el.Duration.Value), el.Status)
		}
	}
	return table.View(styles)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func renderUsage(stats usage.AggregatedStats, events []usage.UsageEvent) string {
	if stats.Total.Calls == 0 {
		return styles.Muted.Render("no API calls recorded yet") + "\n"
	}

	var sb strings.Builder
	sb.WriteString(styles.Title.Render("Usage") + "\n")
	sb.WriteString(styles.Field("Calls", strconv.FormatInt(stats.Total.Calls, 10)))
	sb.WriteString(styles.Field("API calls", strconv.FormatInt(stats.Total.APICalls(), 10)))
	sb.WriteString(styles.Field("Cache hits", strconv.FormatInt(stats.Total.CacheHits, 10)))
	sb.WriteString(styles.Field("Errors", strconv.FormatInt(stats.Total.Errors, 10)))
	sb.WriteString(styles.Field("Mean latency", stats.Total.MeanLatency().Round(time.Millisecond).String()))
	sb.WriteString("\n")

	byOp := ui.NewSimpleTable("By operation", "operation", "calls", "cache hits", "errors", "mean latency").
		Numeric("calls", "cache hits", "errors", "mean latency")
	for _, op := range sortedKeys(stats.ByOperation) {
		c := stats.ByOperation[op]
		byOp.AddRow(op, strconv.FormatInt(c.Calls, 10), strconv.FormatInt(c.CacheHits, 10),
			strconv.FormatInt(c.Errors, 10), c.MeanLatency().Round(time.Millisecond).String())
	}
	sb.WriteString(byOp.View(styles) + "\n")

	byStatus := ui.NewSimpleTable("By status", "status", "calls").Numeric("calls")
	for _, status := range sortedKeys(stats.ByStatus) {
		byStatus.AddRow(status, strconv.FormatInt(stats.ByStatus[status].Calls, 10))
	}
	sb.WriteString(byStatus.View(styles))

	if len(events) > 0 {
		recent := ui.NewSimpleTable("Recent calls", "time", "command", "operation", "status", "latency").
			Numeric("latency")
		for _, e := range events {
			status := e.Status
			if e.CacheHit {
				status += " (cached)"
			}
			recent.AddRow(e.Timestamp.Local().Format(time.DateTime), e.Command, e.Operation, status,
				e.Latency.Round(time.Millisecond).String())
		}
		sb.WriteString("\n" + recent.View(styles))
	}
	return sb.String()
}

func renderCacheStats(path, driver string, stats store.Stats) string {
	var sb strings.Builder
	sb.WriteString(styles.Title.Render("Cache") + "\n")
	sb.WriteString(styles.Field("Path", path))
	sb.WriteString(styles.Field("Driver", driver))
	sb.WriteString(styles.Field("Entries", strconv.FormatInt(stats.Entries, 10)))
	sb.WriteString(styles.Field("Expired", strconv.FormatInt(stats.Expired, 10)))
	sb.WriteString(styles.Field("Hits", strconv.FormatInt(stats.Hits, 10)))
	sb.WriteString(styles.Field("Misses", strconv.FormatInt(stats.Misses, 10)))
	sb.WriteString(styles.Field("Size", strconv.FormatInt(stats.SizeBytes, 10)+" bytes"))
	if len(stats.ByOp) > 0 {
		table := ui.NewSimpleTable("", "operation", "entries").Numeric("entries")
		for _, op := range sortedKeys(stats.ByOp) {
			table.AddRow(op, strconv.FormatInt(stats.ByOp[op], 10))
		}
		sb.WriteString("\n" + table.View(styles))
	}
	return sb.String()
}
