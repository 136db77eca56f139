package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MeltedButter77/robotnic/lifecycle"
	"github.com/MeltedButter77/robotnic/store"
	"github.com/MeltedButter77/robotnic/telemetry"
)

// creatorView is the JSON form of a creator channel record.
type creatorView struct {
	GuildID         string `json:"guild_id"`
	ChannelID       string `json:"channel_id"`
	Template        string `json:"template"`
	UserLimit       int    `json:"user_limit"`
	CategoryPolicy  string `json:"category_policy"`
	CategoryID      string `json:"category_id,omitempty"`
	OverwritePolicy string `json:"overwrite_policy"`
}

func toCreatorView(cc store.CreatorChannel) creatorView {
	return creatorView{
		GuildID:         cc.GuildID,
		ChannelID:       cc.ChannelID,
		Template:        cc.ChildNameTemplate,
		UserLimit:       cc.UserLimit,
		CategoryPolicy:  cc.CategoryPolicy.String(),
		CategoryID:      cc.CategoryID,
		OverwritePolicy: cc.OverwritePolicy.String(),
	}
}

func (v creatorView) record() (store.CreatorChannel, error) {
	if v.GuildID == "" || v.ChannelID == "" {
		return store.CreatorChannel{}, errors.New("guild_id and channel_id are required")
	}
	if v.UserLimit < 0 || v.UserLimit > lifecycle.MaxUserLimit {
		return store.CreatorChannel{}, lifecycle.ErrInvalidUserLimit
	}
	cp, err := store.ParseCategoryPolicy(v.CategoryPolicy)
	if err != nil {
		return store.CreatorChannel{}, err
	}
	if cp == store.CategorySpecific && v.CategoryID == "" {
		return store.CreatorChannel{}, errors.New("category_id is required for the specific category policy")
	}
	op, err := store.ParseOverwritePolicy(v.OverwritePolicy)
	if err != nil {
		return store.CreatorChannel{}, err
	}
	return store.CreatorChannel{
		GuildID:           v.GuildID,
		ChannelID:         v.ChannelID,
		ChildNameTemplate: strings.TrimSpace(v.Template),
		UserLimit:         v.UserLimit,
		CategoryPolicy:    cp,
		CategoryID:        v.CategoryID,
		OverwritePolicy:   op,
	}, nil
}

// HandleAdminCreators lists (GET), registers (POST) and removes (DELETE) creator channels.
// DELETE takes the channel id as /admin/creators/{id}.
func (h *Handlers) HandleAdminCreators(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "http_admin"))
	switch r.Method {
	case http.MethodGet:
		list, err := h.opts.Store.ListCreatorChannels(ctx, r.URL.Query().Get("guild_id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]creatorView, 0, len(list))
		for _, cc := range list {
			out = append(out, toCreatorView(cc))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var v creatorView
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&v); err != nil {
			http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
			return
		}
		cc, err := v.record()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.opts.Store.UpsertCreatorChannel(ctx, cc); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		log.Info("creator channel registered", slog.String("channel_id", cc.ChannelID), slog.String("guild_id", cc.GuildID))
		writeJSON(w, http.StatusCreated, toCreatorView(cc))
	case http.MethodDelete:
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/creators"), "/")
		if id == "" {
			http.Error(w, "channel id required", http.StatusBadRequest)
			return
		}
		if _, err := h.opts.Store.GetCreatorChannel(ctx, id); errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := h.opts.Store.DeleteCreatorChannel(ctx, id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		log.Info("creator channel removed", slog.String("channel_id", id))
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleAdminRefresh runs a bulk name refresh over every temp channel.
func (h *Handlers) HandleAdminRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.opts.Lifecycle.RefreshAll(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "partial", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleAdminReconcile runs the reconciliation sweep.
func (h *Handlers) HandleAdminReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	removed, err := h.opts.Lifecycle.Reconcile(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "partial", "removed": removed, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "removed": removed})
}
