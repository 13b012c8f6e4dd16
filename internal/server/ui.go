// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

// chatPage is the single-file browser UI. It talks to the JSON/SSE API
// below and keeps no state of its own beyond the rendered transcript.
const chatPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>ephemerai</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 0; background: #f5f5f4; color: #1c1917; }
  .container { max-width: 760px; margin: 0 auto; padding: 1rem; display: flex; flex-direction: column; min-height: 100vh; box-sizing: border-box; }
  header { display: flex; align-items: baseline; gap: 1rem; }
  header h1 { font-size: 1.2rem; margin: 0.5rem 0; }
  header .actions { margin-left: auto; display: flex; gap: 0.5rem; }
  button { border: 1px solid #d6d3d1; background: #fff; border-radius: 6px; padding: 0.4rem 0.8rem; cursor: pointer; }
  button:hover { background: #fafaf9; }
  #messages { flex: 1; overflow-y: auto; padding: 0.5rem 0; }
  .message { background: #fff; border-radius: 8px; padding: 0.75rem 1rem; margin: 0.75rem 0; white-space: pre-wrap; overflow-wrap: anywhere; box-shadow: 0 1px 2px rgba(0,0,0,0.06); }
  .message.user { border-left: 3px solid #2563eb; }
  .message.assistant { border-left: 3px solid #16a34a; }
  .advisory { color: #92400e; background: #fef3c7; border-radius: 6px; padding: 0.5rem 0.75rem; margin: 0.5rem 0; font-size: 0.9em; }
  form { display: flex; gap: 0.5rem; padding: 0.75rem 0; border-top: 1px solid #e7e5e4; }
  textarea { flex: 1; resize: vertical; min-height: 2.5rem; border: 1px solid #d6d3d1; border-radius: 6px; padding: 0.5rem; font: inherit; }
</style>
</head>
<body>
<div class="container">
  <header>
    <h1>ephemerai</h1>
    <div class="actions">
      <button id="new">New conversation</button>
      <button id="export">Export</button>
    </div>
  </header>
  <div id="messages"></div>
  <form id="chat">
    <textarea id="message" placeholder="Type a message..."></textarea>
    <input type="file" id="files" multiple>
    <button type="submit" id="send">Send</button>
  </form>
</div>
<script>
const messages = document.getElementById('messages');

function addBubble(cls, text) {
  const div = document.createElement('div');
  div.className = 'message ' + cls;
  div.textContent = text;
  messages.appendChild(div);
  messages.scrollTop = messages.scrollHeight;
  return div;
}

function addAdvisory(text) {
  const div = document.createElement('div');
  div.className = 'advisory';
  div.textContent = text;
  messages.appendChild(div);
}

document.getElementById('chat').addEventListener('submit', async (e) => {
  e.preventDefault();
  const input = document.getElementById('message');
  const files = document.getElementById('files');
  const text = input.value.trim();
  if (!text && files.files.length === 0) return;

  const form = new FormData();
  form.append('message', input.value);
  for (const f of files.files) form.append('files', f);

  addBubble('user', text || '(files attached)');
  input.value = '';
  files.value = '';
  document.getElementById('send').disabled = true;

  const bubble = addBubble('assistant', '');
  try {
    const resp = await fetch('/api/chat', { method: 'POST', body: form });
    if (!resp.ok) {
      const err = await resp.json().catch(() => ({}));
      bubble.textContent = err.error || ('request failed: ' + resp.status);
      return;
    }
    const reader = resp.body.getReader();
    const decoder = new TextDecoder();
    let buf = '';
    for (;;) {
      const { done, value } = await reader.read();
      if (done) break;
      buf += decoder.decode(value, { stream: true });
      let idx;
      while ((idx = buf.indexOf('\n\n')) >= 0) {
        const frame = buf.slice(0, idx);
        buf = buf.slice(idx + 2);
        if (!frame.startsWith('data: ')) continue;
        const payload = frame.slice(6);
        if (payload === '[DONE]') continue;
        const event = JSON.parse(payload);
        if (event.type === 'delta') {
          bubble.textContent += event.content;
          messages.scrollTop = messages.scrollHeight;
        } else if (event.type === 'done') {
          if (event.content) bubble.textContent = event.content;
          for (const adv of event.advisories || []) addAdvisory(adv.message);
        }
      }
    }
  } catch (err) {
    bubble.textContent = 'Connection lost: ' + err.message;
  } finally {
    document.getElementById('send').disabled = false;
  }
});

document.getElementById('new').addEventListener('click', async () => {
  await fetch('/api/conversation/new', { method: 'POST' });
  messages.innerHTML = '';
});

document.getElementById('export').addEventListener('click', () => {
  window.location = '/api/export?format=markdown';
});
</script>
</body>
</html>
`
