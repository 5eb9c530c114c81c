package web

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

func statusLabel(status string) string {
	switch status {
	case "preparing":
		return "Join now"
	case "rolling":
		return "Drawing..."
	case "result":
		return "Winners"
	default:
		return "Waiting for the next round"
	}
}

func winnerItems(winners []DisplayWinner) string {
	var b strings.Builder
	for _, winner := range winners {
		b.WriteString(`<li><strong>`)
		b.WriteString(esc(winner.Name))
		b.WriteString(`</strong>`)
		if winner.Department != "" {
			b.WriteString(` <span>`)
			b.WriteString(esc(winner.Department))
			b.WriteString(`</span>`)
		}
		b.WriteString(`</li>`)
	}
	return b.String()
}

// LotteryDisplay is the big-screen page for a session. It renders the current
// state and then follows the session websocket.
func LotteryDisplay(state DisplayState) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		round := state.RoundTitle
		if round == "" {
			round = "Lucky draw"
		}
		prizes := ""
		if state.RoundCount > 0 {
			prizes = itoa(state.RoundCount) + " to be drawn"
		}
		_, err := io.WriteString(w, `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Lucky draw</title>
    <style>
      body { margin: 0; font-family: system-ui, sans-serif; background: #7f1d1d; color: #fff7ed; }
      .stage { min-height: 100vh; display: flex; flex-direction: column; align-items: center; justify-content: center; gap: 1.5rem; }
      .round { font-size: 3rem; margin: 0; }
      .status { font-size: 1.5rem; opacity: 0.85; }
      .pool { font-size: 1.25rem; }
      .roller { font-size: 4rem; font-weight: 700; min-height: 5rem; }
      ul.winners { list-style: none; padding: 0; font-size: 2rem; text-align: center; }
      ul.winners span { font-size: 1.25rem; opacity: 0.8; }
    </style>
  </head>
  <body data-session="`+utoa(state.SessionID)+`" data-status="`+esc(state.Status)+`">
    <main class="stage">
      <h1 id="round" class="round">`+esc(round)+`</h1>
      <div id="prizes" class="pool">`+prizes+`</div>
      <div id="status" class="status">`+esc(statusLabel(state.Status))+`</div>
      <div class="pool"><span id="poolSize">`+itoa(state.PoolSize)+`</span> in the pool</div>
      <div id="roller" class="roller"></div>
      <ul id="winners" class="winners">`+winnerItems(state.Winners)+`</ul>
    </main>
    <script>
      const body = document.body;
      const sessionID = body.dataset.session;
      const roundEl = document.getElementById("round");
      const prizesEl = document.getElementById("prizes");
      const statusEl = document.getElementById("status");
      const poolEl = document.getElementById("poolSize");
      const rollerEl = document.getElementById("roller");
      const winnersEl = document.getElementById("winners");
      let names = [];
      let rollTimer = null;

      const labels = { idle: "Waiting for the next round", preparing: "Join now", rolling: "Drawing...", result: "Winners" };
      const setStatus = (status) => { statusEl.textContent = labels[status] || labels.idle; };
      const stopRoll = () => { if (rollTimer) { clearInterval(rollTimer); rollTimer = null; } rollerEl.textContent = ""; };
      const startRoll = () => {
        stopRoll();
        if (names.length === 0) return;
        rollTimer = setInterval(() => {
          rollerEl.textContent = names[Math.floor(Math.random() * names.length)];
        }, 80);
      };
      const showWinners = (winners) => {
        winnersEl.replaceChildren();
        (winners || []).forEach((w) => {
          const li = document.createElement("li");
          const strong = document.createElement("strong");
          strong.textContent = w.name;
          li.appendChild(strong);
          if (w.department) {
            const span = document.createElement("span");
            span.textContent = " " + w.department;
            li.appendChild(span);
          }
          winnersEl.appendChild(li);
        });
      };
      const applyPool = (data) => {
        poolEl.textContent = data.count;
        names = (data.participants || []).map((p) => p.name);
      };

      const handlers = {
        "lottery.state": (data) => {
          setStatus(data.status);
          if (data.round) {
            roundEl.textContent = data.round.title;
            prizesEl.textContent = data.round.count + " to be drawn";
          }
          applyPool({ count: data.poolSize, participants: data.pool });
          showWinners(data.lastResult ? data.lastResult.winners : []);
          if (data.status === "rolling") startRoll();
        },
        "lottery.prepare": (data) => {
          roundEl.textContent = data.title;
          prizesEl.textContent = data.count + " to be drawn";
          setStatus("preparing");
          showWinners([]);
          stopRoll();
        },
        "lottery.poolUpdate": applyPool,
        "lottery.start": () => { setStatus("rolling"); showWinners([]); startRoll(); },
        "lottery.result": (data) => { stopRoll(); setStatus("result"); showWinners(data.winners); },
        "lottery.reset": () => {
          stopRoll();
          setStatus("idle");
          roundEl.textContent = "Lucky draw";
          prizesEl.textContent = "";
          showWinners([]);
        },
      };

      const connect = () => {
        const scheme = location.protocol === "https:" ? "wss://" : "ws://";
        const ws = new WebSocket(scheme + location.host + "/ws/sessions/" + sessionID);
        ws.onmessage = (event) => {
          const msg = JSON.parse(event.data);
          const handle = handlers[msg.type];
          if (handle) handle(msg.data || {});
        };
        ws.onclose = () => setTimeout(connect, 2000);
      };
      if (body.dataset.status === "rolling") startRoll();
      connect();
    </script>
  </body>
</html>`)
		return err
	})
}
