package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dwren/pulse-osc/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"rfc3339": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format(time.RFC3339)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>pulse-osc</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.connected { color: green; font-weight: bold; }
.disconnected { color: red; }
.phase { font-weight: bold; }
</style>
</head>
<body>
<h1>pulse-osc</h1>

<h2>Session</h2>
<table>
<tr><th>Phase</th><td class="phase">{{.Phase}}</td></tr>
<tr><th>Data</th><td class="{{if .Fresh}}connected{{else}}disconnected{{end}}">{{if .Fresh}}flowing{{else}}stale{{end}}</td></tr>
<tr><th>Last BPM</th><td>{{if .Fresh}}{{.LastBPM}}{{else}}&mdash;{{end}}</td></tr>
<tr><th>Last sample</th><td>{{rfc3339 .LastSampleAt}}</td></tr>
<tr><th>Reconnect attempt</th><td>{{.ReconnectAttempt}}</td></tr>
</table>

<h2>Counters</h2>
<table>
<tr><th>Samples</th><td>{{.Counts.Samples}}</td></tr>
<tr><th>Dropped frames</th><td>{{.Counts.DroppedFrames}}</td></tr>
<tr><th>Zero-rate frames</th><td>{{.Counts.ZeroRate}}</td></tr>
<tr><th>Reconnects</th><td>{{.Counts.Reconnects}}</td></tr>
<tr><th>Resolves</th><td>{{.Counts.Resolves}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>OSC target</th><td>{{.Config.OSCTarget}}</td></tr>
{{if .Config.Broker}}<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Widget ID</th><td>{{.Config.WidgetID}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{rfc3339 .StartTime}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime()/Fresh() methods but the template wants fields.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Fresh  bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Fresh:    snap.Fresh(),
	}
	indexTmpl.Execute(w, data)
}
