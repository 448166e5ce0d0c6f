package handlers

const apiDocsHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Tomato Disease Classification API</title></head>
<body>
<h2>Tomato Disease Classification API</h2>
<ul>
  <li>GET <code>/health</code></li>
  <li>GET <code>/classes</code></li>
  <li>POST <code>/predict</code> (multipart/form-data, field: <b>file</b>, optional query <code>topk</code>)</li>
  <li>GET <code>/frontend/</code> web client</li>
</ul>
</body>
</html>
`
