package app

import "net/http"

// indexPage hands the browser's location, fragment included, to POST /fragment
// and replaces the history entry with the cleaned URL it gets back.
const indexPage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>nidentity</title>
<style>body{font-family:system-ui,sans-serif;margin:2rem;max-width:40rem}pre{background:#f4f4f4;padding:1rem;overflow:auto}</style>
</head>
<body>
<h1>nidentity</h1>
<p id="state">processing&hellip;</p>
<form id="pw" hidden>
<label>New password <input type="password" name="password" autocomplete="new-password" required></label>
<button type="submit">Continue</button>
</form>
<pre id="out"></pre>
<pre id="events"></pre>
<script>
const href = location.href;
const out = document.getElementById("out");
const state = document.getElementById("state");
const form = document.getElementById("pw");
let mode = "fragment";

async function submit(password) {
  const res = await fetch("/fragment", {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify(password ? {url: href, password} : {url: href}),
  });
  const body = await res.json();
  if (body.url) history.replaceState(null, "", body.url);
  out.textContent = JSON.stringify(body, null, 2);
  const t = body.param && body.param.type;
  if (body.completed === "recovered") mode = "password";
  form.hidden = !((t === "invite" && !body.completed) || mode === "password");
  state.textContent = body.user && body.user.logged_in ? "logged in as " + body.user.email : "logged out";
}

async function setPassword(password) {
  const res = await fetch("/api/password", {
    method: "POST",
    headers: {"Content-Type": "application/json"},
    body: JSON.stringify({password}),
  });
  out.textContent = JSON.stringify(await res.json(), null, 2);
  if (res.ok) form.hidden = true;
}

form.addEventListener("submit", (e) => {
  e.preventDefault();
  const pw = new FormData(form).get("password");
  if (mode === "password") setPassword(pw); else submit(pw);
});

const ws = new WebSocket(location.origin.replace(/^http/, "ws") + "/events", "nidentity.events.v1");
ws.onmessage = (m) => {
  document.getElementById("events").textContent += m.data + "\n";
};

submit();
</script>
</body>
</html>
`

func (a *App) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(indexPage))
}
