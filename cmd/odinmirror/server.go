package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DiamondLightSource/odinmirror/adapters"
	"github.com/DiamondLightSource/odinmirror/aggregate"
	"github.com/DiamondLightSource/odinmirror/binding"
	"github.com/DiamondLightSource/odinmirror/errors"
	"github.com/DiamondLightSource/odinmirror/logging"
	"github.com/DiamondLightSource/odinmirror/metric"
)

// mirrorServer serves the mirrored parameters, summaries and fan-outs over
// HTTP. The tables are built once from the initialised hierarchy; the values
// behind them stay live through the caches.
type mirrorServer struct {
	root     *adapters.Root
	registry *metric.Registry
	log      *logging.Logger

	table       map[string]*binding.Leaf
	summaries   map[string]*aggregate.Summary
	configFans  map[string]*aggregate.ConfigFan
	commandFans map[string]*aggregate.CommandFan
	commands    map[string]aggregate.Action
	started     time.Time
}

func newMirrorServer(root *adapters.Root, registry *metric.Registry, log *logging.Logger) *mirrorServer {
	commands := make(map[string]aggregate.Action)
	root.Commands().Walk(func(path []string, node *adapters.CommandTree) {
		for _, name := range node.ValueNames() {
			action, _ := node.Value(name)
			commands[strings.Join(append(path, name), ".")] = action
		}
	})

	return &mirrorServer{
		root:        root,
		registry:    registry,
		log:         log,
		table:       root.Table(),
		summaries:   root.Summaries(),
		configFans:  root.ConfigFans(),
		commandFans: root.CommandFans(),
		commands:    commands,
		started:     time.Now(),
	}
}

func (s *mirrorServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.HandlerFor(
		s.registry.PrometheusRegistry(), promhttp.HandlerOpts{}).ServeHTTP)
	r.Get("/stats", s.handleStats)

	r.Route("/parameters", func(r chi.Router) {
		r.Get("/", s.handleListParameters)
		r.Get("/{name}", s.handleReadParameter)
		r.Put("/{name}", s.handleWriteParameter)
	})
	r.Route("/summaries", func(r chi.Router) {
		r.Get("/", s.handleListSummaries)
		r.Get("/{name}", s.handleReadSummary)
	})
	r.Route("/fans", func(r chi.Router) {
		r.Get("/", s.handleListFans)
		r.Get("/{name}", s.handleReadFan)
		r.Put("/{name}", s.handleWriteFan)
	})
	r.Route("/commands", func(r chi.Router) {
		r.Get("/", s.handleListCommands)
		r.Post("/{name}", s.handleInvokeCommand)
	})

	return r
}

func (s *mirrorServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *mirrorServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.root.CacheStats())
}

// parameterInfo is the descriptor served for one mirrored parameter.
type parameterInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Writeable bool   `json:"writeable"`
	Group     string `json:"group,omitempty"`
	Path      string `json:"path"`
}

func (s *mirrorServer) handleListParameters(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.table))
	for name := range s.table {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]parameterInfo, 0, len(names))
	for _, name := range names {
		leaf := s.table[name]
		infos = append(infos, parameterInfo{
			Name:      name,
			Type:      leaf.Type.String(),
			Writeable: leaf.Writeable,
			Group:     leaf.Group,
			Path:      leaf.Path(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"parameters": infos})
}

func (s *mirrorServer) handleReadParameter(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	leaf, found := s.table[name]
	if !found {
		writeError(w, http.StatusNotFound, "unknown parameter: "+name)
		return
	}

	value, err := leaf.Read(r.Context())
	if err != nil {
		s.log.Error(r.Context(), "Parameter read failed", err, "parameter", name)
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": value})
}

func (s *mirrorServer) handleWriteParameter(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	leaf, found := s.table[name]
	if !found {
		writeError(w, http.StatusNotFound, "unknown parameter: "+name)
		return
	}

	value, ok := decodeValue(w, r)
	if !ok {
		return
	}

	if err := leaf.Write(r.Context(), value); err != nil {
		s.log.Error(r.Context(), "Parameter write failed", err, "parameter", name)
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": value})
}

func (s *mirrorServer) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"summaries": sortedKeys(s.summaries)})
}

func (s *mirrorServer) handleReadSummary(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	summary, found := s.summaries[name]
	if !found {
		writeError(w, http.StatusNotFound, "unknown summary: "+name)
		return
	}

	value, err := summary.Read(r.Context())
	if err != nil {
		s.log.Error(r.Context(), "Summary read failed", err, "summary", name)
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": value})
}

func (s *mirrorServer) handleListFans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fans": sortedKeys(s.configFans)})
}

func (s *mirrorServer) handleReadFan(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	fan, found := s.configFans[name]
	if !found {
		writeError(w, http.StatusNotFound, "unknown fan: "+name)
		return
	}

	value, err := fan.Read(r.Context())
	if err != nil {
		s.log.Error(r.Context(), "Fan read failed", err, "fan", name)
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name": name, "value": value, "targets": len(fan.Targets()),
	})
}

func (s *mirrorServer) handleWriteFan(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	fan, found := s.configFans[name]
	if !found {
		writeError(w, http.StatusNotFound, "unknown fan: "+name)
		return
	}

	value, ok := decodeValue(w, r)
	if !ok {
		return
	}

	if err := fan.Write(r.Context(), value); err != nil {
		s.log.Error(r.Context(), "Fan write failed", err, "fan", name)
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": value})
}

func (s *mirrorServer) handleListCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": sortedKeys(s.commands),
		"fans":     sortedKeys(s.commandFans),
	})
}

// handleInvokeCommand invokes a command fan if one matches the name, falling
// back to the single discovered command of that name.
func (s *mirrorServer) handleInvokeCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if fan, found := s.commandFans[name]; found {
		if err := fan.Invoke(r.Context()); err != nil {
			s.log.Error(r.Context(), "Command fan failed", err, "command", name)
			writeClassifiedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"command": name, "status": "ok"})
		return
	}

	action, found := s.commands[name]
	if !found {
		writeError(w, http.StatusNotFound, "unknown command: "+name)
		return
	}
	if err := action(r.Context()); err != nil {
		s.log.Error(r.Context(), "Command failed", err, "command", name)
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": name, "status": "ok"})
}

func decodeValue(w http.ResponseWriter, r *http.Request) (any, bool) {
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON value: "+err.Error())
		return nil, false
	}
	return value, true
}

// writeClassifiedError maps the error taxonomy onto HTTP statuses: transient
// transport failures are a bad gateway, invalid requests and rejected writes
// are client errors, everything else is internal.
func writeClassifiedError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsTransient(err):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.IsInvalid(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
