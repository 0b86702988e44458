package gateway

import (
	"net/http"
	"time"
)

// buildHandler wires all REST and SSE routes onto a new ServeMux.
// Uses Go 1.22+ method-prefixed patterns ("GET /path", "POST /path").
func buildHandler(gw *Gateway) http.Handler {
	mux := http.NewServeMux()

	// Root/help
	mux.HandleFunc("GET /{$}", gw.handleRoot)

	// Health
	mux.HandleFunc("GET /health", gw.handleHealth)

	// Server-Sent Events stream
	mux.HandleFunc("GET /events", gw.handleEvents)

	// Products, engagements, tests
	mux.HandleFunc("GET /api/v2/products", gw.handleListProducts)
	mux.HandleFunc("POST /api/v2/products", gw.handleCreateProduct)
	mux.HandleFunc("GET /api/v2/products/{id}", gw.handleGetProduct)
	mux.HandleFunc("PATCH /api/v2/products/{id}", gw.handlePatchProduct)
	mux.HandleFunc("PUT /api/v2/products/{id}/tracker", gw.handlePutProductTracker)
	mux.HandleFunc("GET /api/v2/products/{id}/languages", gw.handleListProductLanguages)
	mux.HandleFunc("POST /api/v2/engagements", gw.handleCreateEngagement)
	mux.HandleFunc("GET /api/v2/engagements/{id}", gw.handleGetEngagement)
	mux.HandleFunc("GET /api/v2/development_environments", gw.handleListEnvironments)
	mux.HandleFunc("GET /api/v2/tests/{id}", gw.handleGetTest)
	mux.HandleFunc("GET /api/v2/tests/{id}/imports", gw.handleListTestImports)

	// Findings
	mux.HandleFunc("GET /api/v2/findings", gw.handleListFindings)
	mux.HandleFunc("POST /api/v2/findings", gw.handleCreateFinding)
	mux.HandleFunc("GET /api/v2/findings/{id}", gw.handleGetFinding)
	mux.HandleFunc("PUT /api/v2/findings/{id}", gw.handleUpdateFinding)
	mux.HandleFunc("PATCH /api/v2/findings/{id}", gw.handleUpdateFinding)
	mux.HandleFunc("DELETE /api/v2/findings/{id}", gw.handleDeleteFinding)
	mux.HandleFunc("GET /api/v2/findings/{id}/tags", gw.handleGetFindingTags)
	mux.HandleFunc("POST /api/v2/findings/{id}/tags", gw.handleAddFindingTags)
	mux.HandleFunc("GET /api/v2/findings/{id}/request_response", gw.handleGetRequestResponse)
	mux.HandleFunc("POST /api/v2/findings/{id}/request_response", gw.handleAddRequestResponse)
	mux.HandleFunc("GET /api/v2/findings/{id}/notes", gw.handleListNotes)
	mux.HandleFunc("POST /api/v2/findings/{id}/notes", gw.handleAddNote)
	mux.HandleFunc("PATCH /api/v2/findings/{id}/notes/{note_id}", gw.handleEditNote)

	// Endpoints
	mux.HandleFunc("GET /api/v2/endpoints", gw.handleListEndpoints)
	mux.HandleFunc("POST /api/v2/endpoints", gw.handleCreateEndpoint)
	mux.HandleFunc("GET /api/v2/endpoints/{id}", gw.handleGetEndpoint)
	mux.HandleFunc("PUT /api/v2/endpoints/{id}", gw.handleUpdateEndpoint)
	mux.HandleFunc("PATCH /api/v2/endpoints/{id}", gw.handleUpdateEndpoint)
	mux.HandleFunc("DELETE /api/v2/endpoints/{id}", gw.handleDeleteEndpoint)

	// Scan ingestion
	mux.HandleFunc("POST /api/v2/import-scan", gw.handleImportScan)
	mux.HandleFunc("POST /api/v2/reimport-scan", gw.handleReimportScan)
	mux.HandleFunc("POST /api/v2/import-languages", gw.handleImportLanguages)
	mux.HandleFunc("GET /api/v2/scan_types", gw.handleListScanTypes)

	return withRequestID(gw.withAuth(mux))
}

// --- handlers ---

func (gw *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "ctrlscan-api",
		"status":  "running",
		"message": "REST API under /api/v2, live import events at /events.",
		"endpoints": []string{
			"GET /health",
			"GET /events",
			"GET /api/v2/products",
			"GET /api/v2/findings",
			"GET /api/v2/endpoints",
			"POST /api/v2/import-scan",
			"POST /api/v2/reimport-scan",
			"POST /api/v2/import-languages",
		},
	})
}

func (gw *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"database":       gw.db.Driver(),
		"uptime_seconds": int64(time.Since(gw.startedAt).Seconds()),
		"sse_clients":    gw.broadcaster.subscribers(),
	}
	if err := gw.db.Ping(r.Context()); err != nil {
		body["status"] = "degraded"
		body["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (gw *Gateway) handleListScanTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gw.ingest.Registry().All())
}

// handleEvents streams SSE to the client. Each line is a JSON SSEEvent.
// Clients receive a "connected" event immediately, then live updates.
func (gw *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering if behind a proxy

	ch := gw.broadcaster.subscribe()
	defer gw.broadcaster.unsubscribe(ch)

	connected, _ := frame(SSEEvent{Type: "connected", Payload: map[string]any{
		"user":       currentUser(r).Name,
		"started_at": gw.startedAt.UTC().Format(time.RFC3339),
	}})
	// nosemgrep: go.lang.security.audit.xss.no-direct-write-to-responsewriter.no-direct-write-to-responsewriter
	_, _ = w.Write(connected)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-ch:
			if !ok {
				return
			}
			// nosemgrep: go.lang.security.audit.xss.no-direct-write-to-responsewriter.no-direct-write-to-responsewriter
			if _, err := w.Write(f); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
