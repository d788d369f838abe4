package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// WebSocket upgrader for real-time stats
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startHealthServer starts an HTTP server for health checks, stats, and
// Prometheus metrics.
func (r *Runner) startHealthServer(port int) {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if !r.clients.Hyperliquid.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("source unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// JSON stats endpoint
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		stats := r.GetStats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(stats)
	})

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint for real-time stats
	mux.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, req, nil)
		if err != nil {
			r.clients.Logger.Error("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			stats := r.GetStats()
			if err := conn.WriteJSON(stats); err != nil {
				return // Client disconnected
			}
		}
	})

	// HTML dashboard
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(dashboardHTML))
	})

	r.healthServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := r.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.clients.Logger.Error("health server error", zap.Error(err))
		}
	}()
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Whalewatch Stats</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, monospace;
            background: #0d1117;
            color: #c9d1d9;
            padding: 20px;
            line-height: 1.5;
        }
        h1 { color: #58a6ff; margin-bottom: 20px; font-size: 24px; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(300px, 1fr)); gap: 20px; }
        .card {
            background: #161b22;
            border: 1px solid #30363d;
            border-radius: 8px;
            padding: 16px;
        }
        .card h3 { color: #58a6ff; font-size: 16px; margin-bottom: 12px; }
        .stat-row { display: flex; justify-content: space-between; padding: 6px 0; border-bottom: 1px solid #21262d; }
        .stat-row:last-child { border-bottom: none; }
        .stat-label { color: #8b949e; }
        .stat-value { color: #f0f6fc; font-weight: 600; }
        .stat-value.green { color: #3fb950; }
        .stat-value.red { color: #f85149; }
        .status { display: flex; align-items: center; gap: 8px; margin-bottom: 20px; }
        .status-dot { width: 10px; height: 10px; border-radius: 50%; }
        .status-dot.connected { background: #3fb950; }
        .status-dot.disconnected { background: #f85149; animation: blink 1s infinite; }
        @keyframes blink { 50% { opacity: 0.5; } }
        .footer { margin-top: 30px; padding: 20px; text-align: center; border-top: 1px solid #30363d; color: #8b949e; font-size: 13px; }
    </style>
</head>
<body>
    <h1>🐋 Whalewatch Dashboard</h1>
    <div class="status">
        <div id="wsDot" class="status-dot disconnected"></div>
        <span id="wsStatus">Connecting...</span>
    </div>

    <div class="grid">
        <div class="card">
            <h3>⏱️ Service</h3>
            <div class="stat-row"><span class="stat-label">Started</span><span id="startTime" class="stat-value">-</span></div>
            <div class="stat-row"><span class="stat-label">Uptime</span><span id="uptime" class="stat-value">-</span></div>
            <div class="stat-row"><span class="stat-label">Source</span><span id="healthy" class="stat-value">-</span></div>
            <div class="stat-row"><span class="stat-label">Breaker</span><span id="breaker" class="stat-value">-</span></div>
        </div>

        <div class="card">
            <h3>👁️ Watchlist</h3>
            <div class="stat-row"><span class="stat-label">Addresses</span><span id="addresses" class="stat-value">-</span></div>
            <div class="stat-row"><span class="stat-label">VIPs</span><span id="vips" class="stat-value green">-</span></div>
            <div class="stat-row"><span class="stat-label">Scans</span><span id="scans" class="stat-value">-</span></div>
            <div class="stat-row"><span class="stat-label">API OK / Failed</span><span id="api" class="stat-value">-</span></div>
        </div>

        <div class="card">
            <h3>🚨 Alerts</h3>
            <div class="stat-row"><span class="stat-label">Total Sent</span><span id="alertTotal" class="stat-value green">-</span></div>
            <div class="stat-row"><span class="stat-label">Clusters Detected</span><span id="clusters" class="stat-value red">-</span></div>
            <div class="stat-row"><span class="stat-label">Wallets Promoted</span><span id="promoted" class="stat-value">-</span></div>
        </div>

        <div class="card">
            <h3>📡 Market Feed</h3>
            <div class="stat-row"><span class="stat-label">Enabled</span><span id="scanEnabled" class="stat-value">-</span></div>
            <div class="stat-row"><span class="stat-label">Messages</span><span id="msgCount" class="stat-value">-</span></div>
            <div class="stat-row"><span class="stat-label">Last Message</span><span id="lastMsg" class="stat-value">-</span></div>
            <div class="stat-row"><span class="stat-label">Trades Seen / Fed</span><span id="trades" class="stat-value">-</span></div>
        </div>

        <div class="card">
            <h3>⚙️ Runtime</h3>
            <div class="stat-row"><span class="stat-label">Goroutines</span><span id="goroutines" class="stat-value">-</span></div>
            <div class="stat-row"><span class="stat-label">Heap In Use</span><span id="heap" class="stat-value">-</span></div>
            <div class="stat-row"><span class="stat-label">GC Cycles</span><span id="numGC" class="stat-value">-</span></div>
            <div class="stat-row"><span class="stat-label">Go</span><span id="goVersion" class="stat-value">-</span></div>
        </div>
    </div>

    <script>
        function connect() {
            const protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(protocol + '//' + window.location.host + '/ws');
            const dot = document.getElementById('wsDot');
            const status = document.getElementById('wsStatus');

            ws.onopen = () => { dot.className = 'status-dot connected'; status.textContent = 'Live'; };
            ws.onclose = () => {
                dot.className = 'status-dot disconnected';
                status.textContent = 'Reconnecting...';
                setTimeout(connect, 2000);
            };
            ws.onerror = () => ws.close();

            ws.onmessage = (e) => {
                const s = JSON.parse(e.data);
                document.getElementById('startTime').textContent = new Date(s.start_time).toLocaleString();
                document.getElementById('uptime').textContent = s.uptime;
                document.getElementById('healthy').textContent = s.poller.healthy ? '✅ Healthy' : '❌ Degraded';
                document.getElementById('healthy').className = 'stat-value ' + (s.poller.healthy ? 'green' : 'red');
                document.getElementById('breaker').textContent = s.poller.breaker_state;
                document.getElementById('addresses').textContent = s.watchlist.addresses;
                document.getElementById('vips').textContent = s.watchlist.vips;
                document.getElementById('scans').textContent = s.poller.scans.toLocaleString();
                document.getElementById('api').textContent = s.poller.api_successes.toLocaleString() + ' / ' + s.poller.api_failures.toLocaleString();
                document.getElementById('alertTotal').textContent = s.alerts.total.toLocaleString();
                document.getElementById('clusters').textContent = s.alerts.clusters_detected;
                document.getElementById('promoted').textContent = s.alerts.wallets_promoted;
                document.getElementById('scanEnabled').textContent = s.market_scan.enabled ? 'Yes (' + s.market_scan.tokens + ' tokens)' : 'No';
                document.getElementById('msgCount').textContent = (s.market_scan.message_count || 0).toLocaleString();
                document.getElementById('lastMsg').textContent = s.market_scan.last_message_ago || 'N/A';
                document.getElementById('trades').textContent = (s.market_scan.trades_seen || 0).toLocaleString() + ' / ' + (s.market_scan.trades_fed || 0).toLocaleString();
                document.getElementById('goroutines').textContent = s.runtime.goroutines;
                document.getElementById('heap').textContent = (s.runtime.heap_inuse / (1024 * 1024)).toFixed(1) + ' MB';
                document.getElementById('numGC').textContent = s.runtime.num_gc;
                document.getElementById('goVersion').textContent = s.runtime.go_version;
            };
        }
        connect();
    </script>

    <div class="footer">
        Build: <code id="commit"></code>
        <script>
            fetch('/stats').then(r => r.json()).then(s => {
                const c = s.build.commit || 'dev';
                document.getElementById('commit').textContent = c.length > 7 ? c.substring(0, 7) : c;
            });
        </script>
    </div>
</body>
</html>
`
