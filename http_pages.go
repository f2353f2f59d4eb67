// © Copyright 2025-2026, Colrpc Project
// SPDX-License-Identifier: Apache-2.0

package colrpc

import (
	"fmt"
	"html"
	"net/http"
	"sort"
	"strings"
)

const pageStyle = `
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Helvetica, Arial, sans-serif; margin: 0; padding: 2rem; background: #0e1116; color: #d7dce1; }
main { max-width: 760px; margin: 0 auto; }
h1 { font-size: 1.5rem; margin-bottom: 0.25rem; }
.sub { color: #8a93a1; margin-top: 0; }
.card { background: #161b22; border: 1px solid #242b36; border-radius: 8px; padding: 1rem 1.25rem; margin: 0.75rem 0; }
.card h2 { font-size: 1.05rem; margin: 0 0 0.25rem 0; }
.tag { display: inline-block; font-size: 0.75rem; text-transform: uppercase; letter-spacing: 0.04em; color: #58a6ff; background: #112233; border-radius: 4px; padding: 0.1rem 0.4rem; margin-right: 0.4rem; }
.doc { color: #b4bcc8; margin: 0.4rem 0 0 0; font-size: 0.9rem; }
code { background: #0e1116; padding: 0.1rem 0.3rem; border-radius: 3px; }
a { color: #58a6ff; }
footer { color: #5a6372; font-size: 0.8rem; margin-top: 2rem; }
`

func basePage(title, body string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>%s</style>
</head>
<body>
<main>
%s
</main>
</body>
</html>
`, html.EscapeString(title), pageStyle, body)
}

func (h *HttpServer) rebuildPages() {
	h.notFoundHTML = []byte(basePage("Not found", `
<h1>404</h1>
<p class="sub">Nothing is registered at this path.</p>
<p><a href="`+h.prefix+`/">Back to the method list</a></p>
`))

	h.landingHTML = []byte(basePage("colrpc", `
<h1>colrpc</h1>
<p class="sub">An Arrow IPC RPC endpoint.</p>
<p>POST a one-row Arrow IPC stream to <code>`+h.prefix+`/{method}</code> to call a unary method,
or to <code>`+h.prefix+`/{method}/init</code> to open a producer or exchange stream.</p>
<p>See <a href="`+h.prefix+`/">the method list</a> for what is registered on this server.</p>
`))
}

func (h *HttpServer) handleLandingPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		h.handleNotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(h.landingHTML)
}

func (h *HttpServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write(h.notFoundHTML)
}

// handleDescribePage renders a human-readable HTML view of the same
// information the __describe__ IPC endpoint exposes, for browsing a
// server's registered methods without an Arrow client.
func (h *HttpServer) handleDescribePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != h.prefix+"/" {
		h.handleNotFound(w, r)
		return
	}

	names := h.server.availableMethods()
	sort.Strings(names)

	var cards strings.Builder
	for _, name := range names {
		cards.WriteString(buildMethodCard(h.server.methods[name]))
	}
	if len(names) == 0 {
		cards.WriteString(`<p class="doc">No methods are registered.</p>`)
	}

	body := fmt.Sprintf(`
<h1>%s</h1>
<p class="sub">%d method(s) registered</p>
%s
<footer>Fetch <code>%s/__describe__</code> as Arrow IPC for machine-readable introspection.</footer>
`, html.EscapeString(serviceTitle(h.server)), len(names), cards.String(), h.prefix)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(basePage("colrpc methods", body)))
}

func serviceTitle(s *Server) string {
	if s.ServiceName() != "" {
		return s.ServiceName()
	}
	return "colrpc methods"
}

func buildMethodCard(info *methodInfo) string {
	doc := ""
	if info.Doc != "" {
		doc = fmt.Sprintf(`<p class="doc">%s</p>`, html.EscapeString(info.Doc))
	}
	return fmt.Sprintf(`
<div class="card">
<span class="tag">%s</span><h2>%s</h2>
%s
</div>
`, methodTypeString(info.Type), html.EscapeString(info.Name), doc)
}
