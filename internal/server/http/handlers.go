package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"navi/internal/config"
	"navi/internal/hierarchy"
)

// apiResponse is the JSON envelope every endpoint returns.
type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type hierarchyHandler struct {
	coordinator *hierarchy.Coordinator
	resolver    *hierarchy.Resolver
	contextRes  *hierarchy.ContextResolver
	ledger      *hierarchy.Ledger
	presets     *config.PresetSet
}

func newHierarchyHandler(deps Deps) *hierarchyHandler {
	return &hierarchyHandler{
		coordinator: deps.Coordinator,
		resolver:    deps.Resolver,
		contextRes:  deps.Context,
		ledger:      deps.Ledger,
		presets:     deps.Presets,
	}
}

// statusFor maps a hierarchy error kind onto an HTTP status. Validation and
// binding failures fall through to 400.
func statusFor(err error) int {
	var herr *hierarchy.Error
	if errors.As(err, &herr) {
		switch herr.Kind {
		case hierarchy.KindNotFound:
			return http.StatusNotFound
		case hierarchy.KindInvalidTransition, hierarchy.KindAlreadyEscalated,
			hierarchy.KindAlreadyDelivered, hierarchy.KindConflict:
			return http.StatusConflict
		case hierarchy.KindSpawnNotAllowed, hierarchy.KindNoParentToEscalateTo:
			return http.StatusUnprocessableEntity
		case hierarchy.KindCorruptHierarchy:
			return http.StatusInternalServerError
		}
	}
	return http.StatusBadRequest
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), apiResponse{Success: false, Error: err.Error()})
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, apiResponse{Success: true, Data: data})
}

func (h *hierarchyHandler) createRoot(c *gin.Context) {
	var req hierarchy.RootConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("invalid request: %w", err))
		return
	}
	session, err := h.coordinator.CreateRoot(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, session)
}

type spawnRequest struct {
	hierarchy.SpawnConfig
	// Preset names a role preset; its role/model fill unset fields.
	Preset string `json:"preset,omitempty"`
}

func (h *hierarchyHandler) spawnChild(c *gin.Context) {
	var req spawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.Preset != "" && h.presets != nil {
		preset, found := h.presets.Get(req.Preset)
		if !found {
			fail(c, fmt.Errorf("unknown preset %q", req.Preset))
			return
		}
		if req.Role == "" {
			req.Role = preset.Role
		}
		if req.Model == "" {
			req.Model = preset.Model
		}
	}
	session, err := h.coordinator.SpawnChild(c.Request.Context(), c.Param("id"), req.SpawnConfig)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, session)
}

func (h *hierarchyHandler) getSession(c *gin.Context) {
	session, err := h.resolver.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, session)
}

func (h *hierarchyHandler) getTree(c *gin.Context) {
	tree, err := h.resolver.Tree(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, tree)
}

func (h *hierarchyHandler) listChildren(c *gin.Context) {
	children, err := h.resolver.Children(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, children)
}

func (h *hierarchyHandler) listAncestors(c *gin.Context) {
	ancestors, err := h.resolver.Ancestors(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, ancestors)
}

func (h *hierarchyHandler) listActive(c *gin.Context) {
	sessions, err := h.resolver.ActiveSessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sessions)
}

func (h *hierarchyHandler) listBlocked(c *gin.Context) {
	sessions, err := h.resolver.BlockedSessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sessions)
}

func (h *hierarchyHandler) canSpawn(c *gin.Context) {
	check, err := h.resolver.CanSpawn(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, check)
}

func (h *hierarchyHandler) escalate(c *gin.Context) {
	var req hierarchy.EscalationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("invalid request: %w", err))
		return
	}
	session, err := h.coordinator.Escalate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, session)
}

func (h *hierarchyHandler) resolveEscalation(c *gin.Context) {
	var req hierarchy.Resolution
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("invalid request: %w", err))
		return
	}
	session, err := h.coordinator.ResolveEscalation(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, session)
}

type deliverRequest struct {
	hierarchy.Deliverable
	// Raw is unparsed agent output; when set it is parsed (with repair)
	// instead of the structured fields.
	Raw string `json:"raw,omitempty"`
}

func (h *hierarchyHandler) deliver(c *gin.Context) {
	var req deliverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("invalid request: %w", err))
		return
	}
	deliverable := req.Deliverable
	if strings.TrimSpace(req.Raw) != "" {
		parsed, err := hierarchy.ParseDeliverable(req.Raw)
		if err != nil {
			fail(c, err)
			return
		}
		deliverable = *parsed
	}
	session, err := h.coordinator.Deliver(c.Request.Context(), c.Param("id"), deliverable)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, session)
}

func (h *hierarchyHandler) pause(c *gin.Context) {
	session, err := h.coordinator.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, session)
}

func (h *hierarchyHandler) resume(c *gin.Context) {
	session, err := h.coordinator.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, session)
}

type archiveRequest struct {
	Cascade *bool `json:"cascade,omitempty"`
}

func (h *hierarchyHandler) archive(c *gin.Context) {
	var req archiveRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		fail(c, fmt.Errorf("invalid request: %w", err))
		return
	}
	cascade := true
	if req.Cascade != nil {
		cascade = *req.Cascade
	}
	if err := h.coordinator.Archive(c.Request.Context(), c.Param("id"), cascade); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"archived": true, "cascade": cascade})
}

func (h *hierarchyHandler) cancelChildren(c *gin.Context) {
	if err := h.coordinator.CancelChildren(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"cancelled": true})
}

func (h *hierarchyHandler) getContext(c *gin.Context) {
	result, err := h.contextRes.GetImmediateContext(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

func (h *hierarchyHandler) queryContext(c *gin.Context) {
	var req hierarchy.ContextQuery
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("invalid request: %w", err))
		return
	}
	result, err := h.contextRes.QueryContext(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

func (h *hierarchyHandler) logDecision(c *gin.Context) {
	var req hierarchy.DecisionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("invalid request: %w", err))
		return
	}
	decision, err := h.ledger.LogDecision(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, decision)
}

func (h *hierarchyHandler) listDecisions(c *gin.Context) {
	decisions, err := h.ledger.Decisions(c.Request.Context(), c.Param("id"),
		c.Query("category"), queryLimit(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, decisions)
}

func (h *hierarchyHandler) logArtifact(c *gin.Context) {
	var req hierarchy.ArtifactInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("invalid request: %w", err))
		return
	}
	artifact, err := h.ledger.LogArtifact(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, artifact)
}

func (h *hierarchyHandler) listArtifacts(c *gin.Context) {
	artifacts, err := h.ledger.Artifacts(c.Request.Context(), c.Param("id"),
		c.Query("type"), queryLimit(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, artifacts)
}

func (h *hierarchyHandler) listPresets(c *gin.Context) {
	if h.presets == nil {
		ok(c, http.StatusOK, []string{})
		return
	}
	names := h.presets.Names()
	presets := make([]config.RolePreset, 0, len(names))
	for _, name := range names {
		if p, found := h.presets.Get(name); found {
			presets = append(presets, p)
		}
	}
	ok(c, http.StatusOK, presets)
}

func queryLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
