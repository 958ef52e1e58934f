package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ohengcom/shaking-news/internal/cache"
	"github.com/ohengcom/shaking-news/internal/config"
	"github.com/ohengcom/shaking-news/internal/preload"
	"github.com/ohengcom/shaking-news/internal/settings"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().Unix(),
		"version":   s.version,
	})
}

func (s *Server) newsHandler(w http.ResponseWriter, r *http.Request) {
	titles := s.news.Titles(r.Context(), s.sources())
	if titles == nil {
		titles = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"titles": titles})
}

func (s *Server) feedHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	src := q.Get("url")
	if err := config.ValidateSourceURL(src); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := q.Get("name")
	if name == "" {
		u, _ := url.Parse(src)
		name = u.Host
	}

	useCache := true
	if v := q.Get("cache"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid cache flag %q", v))
			return
		}
		useCache = b
	}

	s.writeJSON(w, http.StatusOK, s.news.FetchSource(r.Context(), src, name, useCache))
}

func (s *Server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) cacheEntriesHandler(w http.ResponseWriter, r *http.Request) {
	entries := s.cache.Entries()
	if entries == nil {
		entries = []cache.Entry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) cacheClearHandler(w http.ResponseWriter, r *http.Request) {
	s.cache.Clear()
	s.log.Info("Cache cleared via API")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cacheDeleteEntryHandler(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(mux.Vars(r)["key"])
	if err != nil || key == "" {
		s.writeError(w, http.StatusBadRequest, "invalid cache key")
		return
	}
	if !s.cache.Delete(key) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no cache entry %q", key))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// cacheConfigView is the wire form of cache.Config with a readable TTL.
type cacheConfigView struct {
	Enabled      bool   `json:"enabled"`
	MaxEntries   int    `json:"maxEntries"`
	MaxSizeBytes int64  `json:"maxSizeBytes"`
	DefaultTTL   string `json:"defaultTTL"`
}

func viewOf(c cache.Config) cacheConfigView {
	return cacheConfigView{
		Enabled:      c.Enabled,
		MaxEntries:   c.MaxEntries,
		MaxSizeBytes: c.MaxSizeBytes,
		DefaultTTL:   c.DefaultTTL.String(),
	}
}

type cacheConfigPatch struct {
	Enabled    *bool   `json:"enabled"`
	MaxEntries *int    `json:"maxEntries"`
	MaxSizeMB  *int    `json:"maxSizeMB"`
	DefaultTTL *string `json:"defaultTTL"`
}

func (p cacheConfigPatch) update() (cache.ConfigUpdate, error) {
	u := cache.ConfigUpdate{Enabled: p.Enabled, MaxEntries: p.MaxEntries}
	if p.MaxSizeMB != nil {
		b := int64(*p.MaxSizeMB) << 20
		u.MaxSizeBytes = &b
	}
	if p.DefaultTTL != nil {
		d, err := config.ParseDuration(*p.DefaultTTL)
		if err != nil {
			return u, fmt.Errorf("defaultTTL: %w", err)
		}
		u.DefaultTTL = &d
	}
	return u, nil
}

func (s *Server) cacheConfigHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, viewOf(s.cache.Config()))
}

func (s *Server) cacheUpdateConfigHandler(w http.ResponseWriter, r *http.Request) {
	var patch cacheConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	u, err := patch.update()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cache.UpdateConfig(u); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(s.cache.Config()))
}

func (s *Server) preloadStatusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.preload.Status())
}

func (s *Server) preloadRunHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.preload.ForceRun(r.Context(), s.sources())
	if errors.Is(err, preload.ErrAlreadyRunning) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.log.Error("Preload failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// settingsView renders the rotation interval in seconds.
type settingsView struct {
	CacheEnabled            bool   `json:"cacheEnabled"`
	CacheTTL                string `json:"cacheTTL"`
	RotationMode            string `json:"rotationMode"`
	RotationIntervalSeconds int    `json:"rotationIntervalSeconds"`
	Language                string `json:"language"`
	ActiveSourceIDs         []int  `json:"activeSourceIds"`
}

func settingsViewOf(st settings.Settings) settingsView {
	ids := st.ActiveSourceIDs
	if ids == nil {
		ids = []int{}
	}
	return settingsView{
		CacheEnabled:            st.CacheEnabled,
		CacheTTL:                st.CacheTTL.String(),
		RotationMode:            st.RotationMode,
		RotationIntervalSeconds: int(st.RotationInterval / time.Second),
		Language:                st.Language,
		ActiveSourceIDs:         ids,
	}
}

type settingsPatch struct {
	CacheEnabled            *bool   `json:"cacheEnabled"`
	CacheTTL                *string `json:"cacheTTL"`
	RotationMode            *string `json:"rotationMode"`
	RotationIntervalSeconds *int    `json:"rotationIntervalSeconds"`
	Language                *string `json:"language"`
	ActiveSourceIDs         *[]int  `json:"activeSourceIds"`
}

func (p settingsPatch) apply(st *settings.Settings, ttl time.Duration) {
	if p.CacheEnabled != nil {
		st.CacheEnabled = *p.CacheEnabled
	}
	if p.CacheTTL != nil {
		st.CacheTTL = ttl
	}
	if p.RotationMode != nil {
		st.RotationMode = *p.RotationMode
	}
	if p.RotationIntervalSeconds != nil {
		st.RotationInterval = time.Duration(*p.RotationIntervalSeconds) * time.Second
	}
	if p.Language != nil {
		st.Language = *p.Language
	}
	if p.ActiveSourceIDs != nil {
		st.ActiveSourceIDs = append([]int{}, *p.ActiveSourceIDs...)
	}
}

func (s *Server) settingsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, settingsViewOf(s.settings.Get()))
}

func (s *Server) updateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var patch settingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var ttl time.Duration
	if patch.CacheTTL != nil {
		d, err := config.ParseDuration(*patch.CacheTTL)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("cacheTTL: %v", err))
			return
		}
		ttl = d
	}
	st, err := s.settings.Update(func(st *settings.Settings) { patch.apply(st, ttl) })
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, settingsViewOf(st))
}
