package templates

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/darshan-rambhia/nab/internal/cache"
	"github.com/darshan-rambhia/nab/internal/model"
)

// HostRow is one line of the host table.
type HostRow struct {
	Host        model.Host
	Last        *model.Backup
	LastSuccess *model.Backup
}

// StatusData is everything the status page shows.
type StatusData struct {
	Server string
	Now    time.Time
	Hosts  []HostRow
	Alerts []model.Alert
	Cache  cache.CacheSnapshot
}

const pageStyle = `body{font-family:system-ui,sans-serif;margin:2rem;color:#222}
table{border-collapse:collapse;width:100%;margin-bottom:2rem}
th,td{text-align:left;padding:.3rem .6rem;border-bottom:1px solid #ddd}
.status-ok{color:#1a7f37}.status-warning{color:#9a6700}.status-critical{color:#cf222e}.status-running{color:#0969da}
.bar{background:#eee;height:.6rem;width:12rem}.bar>div{height:100%}
.bar-ok{background:#2da44e}.bar-warning{background:#d4a72c}.bar-critical{background:#cf222e}`

// page collects writes and keeps the first error.
type page struct {
	w   io.Writer
	err error
}

func (p *page) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *page) text(s string) { p.raw(templ.EscapeString(s)) }

func (p *page) cell(class, s string) {
	if class != "" {
		p.raw(`<td class="` + templ.EscapeString(class) + `">`)
	} else {
		p.raw("<td>")
	}
	p.text(s)
	p.raw("</td>")
}

func (p *page) header(cols ...string) {
	p.raw("<thead><tr>")
	for _, c := range cols {
		p.raw("<th>")
		p.text(c)
		p.raw("</th>")
	}
	p.raw("</tr></thead>")
}

// StatusPage renders the full HTML status page.
func StatusPage(d StatusData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>nab: `)
		p.text(d.Server)
		p.raw(`</title><style>` + pageStyle + `</style></head><body><h1>nab on `)
		p.text(d.Server)
		p.raw(`</h1><p>Loops last ticked `)
		p.text(OldestPoll(d.Cache.LastPoll, d.Now))
		p.raw(`</p>`)

		if err := RunsTable(d.Cache.Active, d.Now, "Running").Render(ctx, w); err != nil {
			return err
		}
		hostsTable(p, d)
		storageTable(p, d.Cache.StorageUsage)
		if err := RunsTable(d.Cache.Finished, d.Now, "Recent runs").Render(ctx, w); err != nil {
			return err
		}
		alertsTable(p, d.Alerts)
		p.raw(`</body></html>`)
		return p.err
	})
}

// RunsTable renders a table of harness runs under a heading.
func RunsTable(runs []*model.Run, now time.Time, title string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw("<h2>")
		p.text(title)
		p.raw("</h2>")
		if len(runs) == 0 {
			p.raw(`<p class="empty">None</p>`)
			return p.err
		}
		p.raw("<table>")
		p.header("Host", "State", "Generation", "Started", "Duration", "Exit", "Detail")
		p.raw("<tbody>")
		for _, r := range runs {
			started := r.Started
			detail := r.Reason
			if r.Error != "" {
				detail = r.Error
			} else if r.Snapshot != "" {
				detail = r.Snapshot
			}
			p.raw("<tr>")
			p.cell("", r.Host)
			p.cell(RunStateClass(r.State), RunStateLabel(r.State))
			p.cell("", string(r.Generation))
			p.cell("", FormatTime(&started))
			p.cell("", RunDuration(r, now))
			p.cell("", ExitCodeDisplay(r.ExitCode))
			p.cell("", detail)
			p.raw("</tr>")
		}
		p.raw("</tbody></table>")
		return p.err
	})
}

func hostsTable(p *page, d StatusData) {
	p.raw("<h2>Hosts</h2><table>")
	p.header("Host", "Active", "Last backup", "Outcome", "Last success", "Next backup")
	p.raw("<tbody>")
	for _, row := range d.Hosts {
		var lastStart, lastOK *time.Time
		if row.Last != nil {
			lastStart = row.Last.StartTime
		}
		if row.LastSuccess != nil {
			lastOK = row.LastSuccess.EndTime
		}
		active := "no"
		if row.Host.Active {
			active = "yes"
		}
		p.raw("<tr>")
		p.cell("", row.Host.Hostname)
		p.cell("", active)
		p.cell("", FormatTime(lastStart))
		p.cell(BackupOutcomeClass(row.Last), BackupOutcomeLabel(row.Last))
		p.cell("", FormatAge(lastOK, d.Now))
		p.cell("", FormatTime(row.Host.NextBackup))
		p.raw("</tr>")
	}
	p.raw("</tbody></table>")
}

func storageTable(p *page, usage map[int64]int) {
	if len(usage) == 0 {
		return
	}
	p.raw("<h2>Storage</h2><table>")
	p.header("Storage", "Used")
	p.raw("<tbody>")
	for _, id := range SortedStorageIDs(usage) {
		pct := usage[id]
		p.raw("<tr>")
		p.cell("", fmt.Sprintf("#%d", id))
		p.raw(fmt.Sprintf(`<td><div class="bar"><div class="%s" style="width:%d%%"></div></div> `,
			ProgressBarClass(pct), ProgressBarWidth(pct)))
		p.text(FormatPct(pct))
		p.raw("</td></tr>")
	}
	p.raw("</tbody></table>")
}

func alertsTable(p *page, alerts []model.Alert) {
	if len(alerts) == 0 {
		return
	}
	p.raw("<h2>Alerts</h2><table>")
	p.header("Time", "Severity", "Host", "Message")
	p.raw("<tbody>")
	for _, a := range alerts {
		ts := a.Timestamp
		class := "status-" + a.Severity
		if a.Severity == "info" {
			class = "status-ok"
		}
		p.raw("<tr>")
		p.cell("", FormatTime(&ts))
		p.cell(class, strings.ToUpper(a.Severity))
		p.cell("", a.Host)
		p.cell("", a.Message)
		p.raw("</tr>")
	}
	p.raw("</tbody></table>")
}
