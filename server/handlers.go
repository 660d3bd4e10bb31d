package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/onnwee/live-notifier/catalog"
	"github.com/onnwee/live-notifier/poller"
	"github.com/onnwee/live-notifier/resolver"
	"github.com/onnwee/live-notifier/telemetry"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handlers) log(r *http.Request) *slog.Logger {
	return telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "http"))
}

// tenantParam returns the {tenant} route value, writing 400 when it is blank.
func tenantParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "tenant"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "tenant required")
		return "", false
	}
	return id, true
}

// HandleHealthz responds to liveness probe requests by checking store connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz runs the store ping and every configured readiness check, reporting
// the first failure.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := append([]ReadyCheck{{Name: "store", Fn: h.deps.Store.Ping}}, h.deps.Ready...)
	for _, check := range checks {
		if err := check.Fn(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.Name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type resolveResponse struct {
	Status      string             `json:"status"`
	Identity    *resolver.Identity `json:"identity,omitempty"`
	Unavailable []catalog.Platform `json:"unavailable,omitempty"`
}

func toResolveResponse(res resolver.Resolution) resolveResponse {
	out := resolveResponse{Status: res.Status.String(), Unavailable: res.Unavailable}
	if res.Status == resolver.Resolved {
		id := res.Identity
		out.Identity = &id
	}
	return out
}

// HandleResolve answers GET /resolve?q= without touching the catalog.
func (h *Handlers) HandleResolve(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	writeJSON(w, http.StatusOK, toResolveResponse(h.deps.Resolver.Resolve(r.Context(), q)))
}

type listedEntry struct {
	Index int `json:"index"`
	catalog.Entry
}

// HandleListSubscriptions returns the tenant's numbered subscriptions, plus the
// rendered listing admins see in chat.
func (h *Handlers) HandleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	entries, err := h.deps.Catalog.ListForTenant(r.Context(), tenantID)
	if err != nil {
		h.log(r).Error("list subscriptions", slog.String("tenant", tenantID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	listed := make([]listedEntry, len(entries))
	for i, e := range entries {
		listed[i] = listedEntry{Index: i + 1, Entry: e}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant":  tenantID,
		"entries": listed,
		"text":    catalog.FormatList(entries),
	})
}

type subscribeRequest struct {
	Query string `json:"query"`
}

// HandleSubscribe resolves the posted query, records the channel in the catalog and
// subscribes the tenant to it. Resubscribing is reported with added=false.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	var req subscribeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}

	res := h.deps.Resolver.Resolve(r.Context(), req.Query)
	switch res.Status {
	case resolver.NotFound:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no channel found", "resolution": toResolveResponse(res)})
		return
	case resolver.Unavailable:
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "lookup unavailable", "resolution": toResolveResponse(res)})
		return
	}

	entry, _, err := h.deps.Catalog.Upsert(r.Context(), res.Identity.Platform, res.Identity.ExternalID, res.Identity.DisplayName)
	if err != nil {
		h.log(r).Error("upsert catalog entry", slog.String("tenant", tenantID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to save channel")
		return
	}
	added, err := h.deps.Catalog.Subscribe(r.Context(), tenantID, entry.ID)
	if err != nil {
		h.log(r).Error("subscribe", slog.String("tenant", tenantID), slog.String("entry", entry.ID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
		h.log(r).Info("subscribed", slog.String("tenant", tenantID), slog.String("entry", entry.ID))
	}
	writeJSON(w, status, map[string]any{"entry": entry, "added": added})
}

// HandleUnsubscribe removes the subscription at the 1-based {index}.
func (h *Handlers) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be a number")
		return
	}
	removed, err := h.deps.Catalog.UnsubscribeByIndex(r.Context(), tenantID, index)
	if err != nil {
		h.log(r).Error("unsubscribe", slog.String("tenant", tenantID), slog.Int("index", index), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	if removed == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no subscription #%d", index))
		return
	}
	h.log(r).Info("unsubscribed", slog.String("tenant", tenantID), slog.String("entry", removed.ID))
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// HandleWhoIsLive probes the tenant's subscriptions now.
func (h *Handlers) HandleWhoIsLive(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	rep, err := h.deps.Engine.WhoIsLive(r.Context(), tenantID)
	if err != nil {
		h.log(r).Error("who is live", slog.String("tenant", tenantID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to check live status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"live":        rep.Live,
		"unavailable": rep.Unavailable,
		"notice":      rep.UnavailableNotice(),
	})
}

type testRequest struct {
	Platform string `json:"platform"`
	Name     string `json:"name"`
}

// HandleTriggerTest posts a synthesized notification to the tenant's channel.
func (h *Handlers) HandleTriggerTest(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	var req testRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	platform := catalog.YouTube
	if req.Platform != "" {
		p, ok := catalog.ParsePlatform(req.Platform)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown platform")
			return
		}
		platform = p
	}
	res, err := h.deps.Engine.TriggerTest(r.Context(), tenantID, platform, req.Name)
	switch {
	case errors.Is(err, poller.ErrNoChannel):
		writeError(w, http.StatusConflict, "tenant has no notification channel configured")
		return
	case err != nil:
		h.log(r).Warn("test notification failed", slog.String("tenant", tenantID), slog.Any("err", err))
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "content": res.Content})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandlePoll runs one cycle for the tenant now, serialized with the scheduled loop.
func (h *Handlers) HandlePoll(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	var (
		rep poller.Report
		err error
	)
	run := func() { rep, err = h.deps.Engine.RunCycle(r.Context(), tenantID) }
	if h.deps.Polls != nil {
		h.deps.Polls.Exclusive(tenantID, run)
	} else {
		run()
	}
	if err != nil {
		h.log(r).Error("manual poll failed", slog.String("tenant", tenantID), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": rep})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// HandleState returns the tenant's persisted per-channel state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantParam(w, r)
	if !ok {
		return
	}
	st, err := h.deps.Engine.State(r.Context(), tenantID)
	if err != nil {
		h.log(r).Error("load state", slog.String("tenant", tenantID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to load state")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
