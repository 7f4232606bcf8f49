package web

import "net/http"

const indexHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>fabricagent</title></head>
<body>
<h1>Fabric data agent</h1>
<p id="auth"></p>
<button id="login">Sign in</button>
<form id="ask">
  <input id="question" name="question" size="80" placeholder="Ask a question">
  <input id="thread" name="thread_name" placeholder="thread (optional)">
  <button type="submit">Ask</button>
</form>
<h2>Response</h2>
<pre id="response"></pre>
<h2>SQL</h2>
<pre id="sql"></pre>
<h2>Data preview</h2>
<pre id="preview"></pre>
<script>
async function refresh() {
  const st = await (await fetch('/auth/status')).json();
  document.getElementById('auth').textContent =
    st.authenticated ? 'Signed in' : (st.auth_in_progress ? 'Sign-in in progress' : 'Not signed in');
}
document.getElementById('login').onclick = async () => {
  const r = await (await fetch('/auth/start', {method: 'POST'})).json();
  document.getElementById('auth').textContent = r.success ? r.message : r.error;
};
document.getElementById('ask').onsubmit = async (e) => {
  e.preventDefault();
  const body = {
    question: document.getElementById('question').value,
    thread_name: document.getElementById('thread').value,
  };
  const r = await (await fetch('/run-details', {
    method: 'POST', headers: {'Content-Type': 'application/json'}, body: JSON.stringify(body),
  })).json();
  document.getElementById('response').textContent = r.success ? r.response : r.error;
  document.getElementById('sql').textContent = r.data_retrieval_query || (r.sql_queries || []).join('\n\n');
  const previews = r.sql_data_previews || [];
  const i = (r.data_retrieval_query_index || 1) - 1;
  document.getElementById('preview').textContent = (previews[i] || previews.find(p => p.length) || []).join('\n');
  refresh();
};
refresh();
</script>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}
