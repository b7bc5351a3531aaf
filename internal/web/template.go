package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/box-counter/internal/status"
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
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"stateClass": func(s string) string {
		switch s {
		case "running", "stopped", "error":
			return s
		}
		return "unknown"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Box Counter</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.running { color: green; font-weight: bold; }
.stopped { color: #888; }
.error, .unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Box Counter<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Machine</h2>
<table>
<tr><th>State</th><td id="state" class="{{stateClass .Loop.State}}">{{stateOrUnknown .Loop.State}}</td></tr>
<tr><th>Boxes</th><td id="box-count">{{.Loop.BoxCount}}</td></tr>
<tr><th>Speed</th><td id="speed">{{.Loop.Speed}}</td></tr>
<tr><th>Desired speed</th><td id="desired-speed">{{.Loop.DesiredSpeed}}</td></tr>
<tr><th>Power</th><td id="power">{{if .Loop.PowerOn}}on{{else}}off{{end}}</td></tr>
<tr><th>Cycles</th><td id="cycles">{{.Loop.Cycles}}</td></tr>
{{if .Loop.LastError}}<tr><th>Last error</th><td class="error">{{.Loop.LastError}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Event bus</th><td class="{{if .BusConnected}}connected{{else}}disconnected{{end}}">{{if .BusConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Config.ConfigURL}}<tr><th>Config URL</th><td>{{.Config.ConfigURL}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Cycle delay</th><td>{{.Config.DelayMs}}ms</td></tr>
<tr><th>Telemetry</th><td>{{.Config.TelemetryMs}}ms</td></tr>
<tr><th>Motor</th><td>{{.Config.Motor}}</td></tr>
<tr><th>Sensor</th><td>{{.Config.Sensor}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var fields = {
    "state": "state", "box-count": "box_count", "speed": "speed",
    "desired-speed": "desired_speed", "cycles": "cycles"
  };

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.type !== "status") return;
        for (var id in fields) {
          document.getElementById(id).textContent = msg.data[fields[id]];
        }
        document.getElementById("state").className = msg.data.state;
        document.getElementById("power").textContent = msg.data.power_on ? "on" : "off";
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
