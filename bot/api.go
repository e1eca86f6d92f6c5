package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/whiteout-project/warden/bot/middleware"
	"github.com/whiteout-project/warden/bot/refresh"
	"github.com/whiteout-project/warden/bot/scheduler"
	"github.com/whiteout-project/warden/bot/store"
)

// API exposes the administrative HTTP surface: roster CRUD, process
// submission and inspection, settings, and log viewers. Chat-facing
// integrations drive the same engine entry points.
type API struct {
	st      store.Store
	reg     *scheduler.Registry
	manager *scheduler.Manager
	engine  *refresh.Engine
	hub     *StatusHub
}

func NewAPI(st store.Store, reg *scheduler.Registry, manager *scheduler.Manager, engine *refresh.Engine) *API {
	return &API{st: st, reg: reg, manager: manager, engine: engine}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("response encode: %v", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

// --- Processes ---

func (a *API) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	status := store.ProcessStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = store.StatusQueued
	}
	procs, err := a.st.ProcessesByStatus(r.Context(), status)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if procs == nil {
		procs = []*store.Process{}
	}
	a.writeJSON(w, http.StatusOK, procs)
}

func (a *API) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := a.st.GetProcess(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		a.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, p)
}

// --- Alliances ---

func (a *API) handleListAlliances(w http.ResponseWriter, r *http.Request) {
	alliances, err := a.st.ListAlliances(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	ids := make([]int64, len(alliances))
	for i, al := range alliances {
		ids[i] = al.ID
	}
	counts, err := a.st.PlayerCountsByAlliances(r.Context(), ids)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	type allianceView struct {
		*store.Alliance
		PlayerCount int `json:"player_count"`
	}
	out := make([]allianceView, len(alliances))
	for i, al := range alliances {
		out[i] = allianceView{Alliance: al, PlayerCount: counts[al.ID]}
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) handleUpsertAlliance(w http.ResponseWriter, r *http.Request) {
	var al store.Alliance
	if err := json.NewDecoder(r.Body).Decode(&al); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := refresh.ParseInterval(al.Interval); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.st.UpsertAlliance(r.Context(), &al); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.audit(r, "upsert_alliance", al.Name)
	// The edited interval takes effect now: the timer is replaced (or
	// cancelled when the interval was removed). A pass already in flight
	// re-arms from the current row when it finishes.
	a.engine.Schedule(&al)
	a.writeJSON(w, http.StatusOK, al)
}

func (a *API) handleDeleteAlliance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.st.DeleteAlliance(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		a.writeError(w, status, err)
		return
	}
	a.engine.Unschedule(id)
	a.audit(r, "delete_alliance", strconv.FormatInt(id, 10))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleManualRefresh(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	procID, err := a.engine.SubmitManualRefresh(r.Context(), id, middleware.ActorFromContext(r.Context()))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	a.audit(r, "manual_refresh", strconv.FormatInt(id, 10))
	a.writeJSON(w, http.StatusAccepted, map[string]int64{"process_id": procID})
}

func (a *API) handleAddPlayers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		PlayerIDs []int64 `json:"player_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body.PlayerIDs) == 0 {
		a.writeError(w, http.StatusBadRequest, errors.New("player_ids must be non-empty"))
		return
	}
	actor := middleware.ActorFromContext(r.Context())
	procID, err := a.reg.Create(r.Context(), store.ActionAddPlayer, id, 0,
		store.Details{PlayerIDs: body.PlayerIDs}, actor)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.manager.Submit(r.Context(), procID); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.audit(r, "add_players", strconv.FormatInt(id, 10))
	a.writeJSON(w, http.StatusAccepted, map[string]int64{"process_id": procID})
}

// --- Gift codes ---

// handleRedeemCode fans a gift code out to one redeem process per alliance.
// With no alliance_ids given, every auto_redeem alliance participates.
// Players who already redeemed the code are excluded up front.
func (a *API) handleRedeemCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code        string  `json:"code"`
		AllianceIDs []int64 `json:"alliance_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Code == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("code must be non-empty"))
		return
	}

	var targets []*store.Alliance
	if len(body.AllianceIDs) > 0 {
		for _, id := range body.AllianceIDs {
			al, err := a.st.GetAlliance(r.Context(), id)
			if err != nil {
				a.writeError(w, http.StatusBadRequest, err)
				return
			}
			targets = append(targets, al)
		}
	} else {
		all, err := a.st.ListAlliances(r.Context())
		if err != nil {
			a.writeError(w, http.StatusInternalServerError, err)
			return
		}
		for _, al := range all {
			if al.AutoRedeem {
				targets = append(targets, al)
			}
		}
	}

	actor := middleware.ActorFromContext(r.Context())
	created := make(map[int64]int64)
	for _, al := range targets {
		players, err := a.st.ListPlayersByAlliance(r.Context(), al.ID)
		if err != nil {
			a.writeError(w, http.StatusInternalServerError, err)
			return
		}
		fids := make([]int64, len(players))
		for i, p := range players {
			fids[i] = p.Fid
		}
		redeemed, err := a.st.CheckBulkUsage(r.Context(), body.Code, fids)
		if err != nil {
			a.writeError(w, http.StatusInternalServerError, err)
			return
		}
		remaining := excludeFids(fids, redeemed)
		if len(remaining) == 0 {
			continue // everyone already has it
		}
		procID, err := a.reg.Create(r.Context(), store.ActionRedeemGiftcode, al.ID, al.Priority,
			store.Details{PlayerIDs: remaining, GiftCode: body.Code}, actor)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.manager.Submit(r.Context(), procID); err != nil {
			a.writeError(w, http.StatusInternalServerError, err)
			return
		}
		created[al.ID] = procID
	}
	a.audit(r, "redeem_code", body.Code)
	a.writeJSON(w, http.StatusAccepted, map[string]any{"processes": created})
}

func excludeFids(fids, drop []int64) []int64 {
	skip := make(map[int64]struct{}, len(drop))
	for _, fid := range drop {
		skip[fid] = struct{}{}
	}
	var out []int64
	for _, fid := range fids {
		if _, ok := skip[fid]; !ok {
			out = append(out, fid)
		}
	}
	return out
}

// handleGiftcodeUsage lists everyone recorded as having redeemed a code.
func (a *API) handleGiftcodeUsage(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("code must be non-empty"))
		return
	}
	fids, err := a.st.FidsWhoRedeemed(r.Context(), code)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if fids == nil {
		fids = []int64{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"code": code, "fids": fids})
}

// --- Settings ---

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.st.GetSettings(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, settings)
}

func (a *API) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var body store.Settings
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.st.SetAutoDelete(r.Context(), body.AutoDelete); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.audit(r, "set_auto_delete", strconv.FormatBool(body.AutoDelete))
	a.writeJSON(w, http.StatusOK, body)
}

// --- Logs ---

func (a *API) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := a.st.ListSystemLogs(r.Context(), limit)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if logs == nil {
		logs = []store.SystemLog{}
	}
	a.writeJSON(w, http.StatusOK, logs)
}

func (a *API) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := a.st.ListAdminLogs(r.Context(), limit)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if logs == nil {
		logs = []store.AdminLog{}
	}
	a.writeJSON(w, http.StatusOK, logs)
}

// --- Status ---

// Status is the live snapshot the dashboard and the websocket hub render.
type Status struct {
	Active      *store.Process `json:"active,omitempty"`
	QueueDepth  int            `json:"queue_depth"`
	QueuedByAct map[string]int `json:"queued_by_action"`
}

func (a *API) status(ctx context.Context) (Status, error) {
	var s Status
	active, err := a.st.ActiveProcess(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return s, err
	}
	s.Active = active
	queued, err := a.st.ProcessesByStatus(ctx, store.StatusQueued)
	if err != nil {
		return s, err
	}
	s.QueueDepth = len(queued)
	s.QueuedByAct = make(map[string]int)
	for _, p := range queued {
		s.QueuedByAct[string(p.Action)]++
	}
	return s, nil
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	s, err := a.status(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, s)
}

func (a *API) audit(r *http.Request, action, detail string) {
	actor := middleware.ActorFromContext(r.Context())
	if err := a.st.AppendAdminLog(r.Context(), actor, action, detail); err != nil {
		log.Printf("admin log write failed: %v", err)
	}
}
