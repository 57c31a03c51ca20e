package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/fan-controller/internal/status"
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
	"percent": status.Percent,
	"bandOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"sensorCSC": func(mask uint8) bool { return mask&1 != 0 },
	"ms": func(ms int64) string {
		return (time.Duration(ms) * time.Millisecond).String()
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Fan Controller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.connected { color: green; }
.disconnected { color: red; }
.forced { color: orange; font-weight: bold; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Fan Controller<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Rider</h2>
<table>
<tr><th>Speed</th><td id="speed">{{if .Telemetry.SpeedValid}}{{printf "%.1f" .Telemetry.Speed}} {{.Config.Units}}{{else}}-{{end}}</td></tr>
<tr><th>Cadence</th><td id="cadence">{{printf "%.0f" .Telemetry.Cadence}} rpm</td></tr>
<tr><th>Power</th><td id="power">{{.Telemetry.Power}} W</td></tr>
</table>

<h2>Fan</h2>
<table>
<tr><th>Band</th><td id="band"{{if .Telemetry.ForcedOff}} class="forced"{{end}}>{{bandOrUnknown (printf "%s" .Telemetry.Band)}}{{if .Telemetry.ForcedOff}} (off delay){{end}}</td></tr>
{{range $i, $ch := .Telemetry.Channels}}<tr><th>Channel {{$i}}</th><td id="ch-{{$i}}">{{percent $ch.Level}}% ({{$ch.DelayUs}}&micro;s)</td></tr>
{{end}}<tr><th>Mains</th><td id="mains">{{printf "%.2f" .Telemetry.MainsHz}} Hz</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Speed sensor</th><td id="sensor-csc">{{if sensorCSC .Telemetry.ConnMask}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Bridge</th><td>{{.Config.BridgePort}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Cycles</th><td id="cycles">{{.Cycles}}</td></tr>
<tr><th>Speeds</th><td>{{.Config.SpeedThreshold}} / {{.Config.SpeedMin}} / {{.Config.SpeedMax}} {{.Config.Units}}</td></tr>
<tr><th>Off delay</th><td>{{ms .Config.OffDelayMs}}</td></tr>
<tr><th>Control period</th><td>{{ms .Config.ControlPeriodMs}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var units = "{{.Config.Units}}";

  function setText(id, text) {
    var el = document.getElementById(id);
    if (el) { el.textContent = text; }
  }

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
        var s = JSON.parse(ev.data).status;
        var fan = s.fan;
        setText("speed", fan.speed_valid ? fan.speed.toFixed(1) + " " + units : "-");
        setText("cadence", fan.cadence.toFixed(0) + " rpm");
        setText("power", fan.power + " W");
        setText("band", fan.band + (fan.forced_off ? " (off delay)" : ""));
        setText("mains", fan.mains_hz.toFixed(2) + " Hz");
        setText("sensor-csc", fan.sensor_csc ? "connected" : "disconnected");
        setText("cycles", s.cycles);
        (fan.channels || []).forEach(function(ch, i) {
          setText("ch-" + i, ch.percent + "% (" + ch.delay_us + "µs)");
        });
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
