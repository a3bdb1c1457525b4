package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/soil-pump/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"duration": func(d time.Duration) string {
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
	"ms": func(ms int64) time.Duration {
		return time.Duration(ms) * time.Millisecond
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Soil Pump</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Soil Pump</h1>

<h2>State</h2>
<table>
<tr><th>Pump</th><td id="pump-state" class="{{if .Pump.Running}}on{{else}}off{{end}}">{{if .Pump.Running}}ON ({{duration .PumpRunning}} of {{duration (ms .Config.PumpMaxRuntimeMs)}}){{else}}OFF{{end}}</td></tr>
<tr><th>Moisture</th><td id="moisture" class="{{if not .HaveMoisture}}unknown{{end}}">{{if .HaveMoisture}}{{.Moisture}}{{else}}no reading yet{{end}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Wi-Fi</th><td class="{{if .LinkConnected}}connected{{else}}disconnected{{end}}">{{if .LinkConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}} (v{{.Config.ProtocolVersion}})</td></tr>
<tr><th>Client ID</th><td>{{.Config.ClientID}}</td></tr>
<tr><th>Since last publish</th><td>{{duration .Silence}} (restart after {{duration (ms .Config.WatchdogSilenceMs)}})</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Interface}} via {{.Network.Mode}}{{if .Network.SSID}} ({{.Network.SSID}}){{end}}</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counts</h2>
<table>
<tr><th>Publishes</th><td>{{.Counts.Publishes}}</td></tr>
<tr><th>Publish failures</th><td>{{.Counts.PublishFailures}}</td></tr>
<tr><th>Session dials</th><td>{{.Counts.Dials}} ({{.Counts.DialFailures}} failed)</td></tr>
<tr><th>ON / OFF</th><td>{{.Counts.CommandsOn}} / {{.Counts.CommandsOff}}</td></tr>
<tr><th>Ignored payloads</th><td>{{.Counts.Ignored}}</td></tr>
<tr><th>Safety cutoffs</th><td>{{.Counts.Cutoffs}}</td></tr>
<tr><th>Recoveries</th><td>{{.Counts.Recoveries}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{duration .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Boot ID</th><td>{{.Config.BootID}}</td></tr>
<tr><th>Topics</th><td>{{.Config.CommandTopic}} / {{.Config.TelemetryTopic}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Telemetry</th><td>every {{duration (ms .Config.TelemetryIntervalMs)}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot methods are exposed to the template as fields.
	data := struct {
		status.Snapshot
		Uptime      time.Duration
		Silence     time.Duration
		PumpRunning time.Duration
	}{
		Snapshot:    snap,
		Uptime:      snap.Uptime(),
		Silence:     snap.Silence(),
		PumpRunning: snap.Pump.RunningFor(snap.Now),
	}
	indexTmpl.Execute(w, data)
}
