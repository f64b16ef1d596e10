package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"smc-engine/internal/analysis"
	"smc-engine/internal/auth"
	"smc-engine/internal/bot"
	"smc-engine/internal/cache"
	"smc-engine/internal/engine"
	"smc-engine/internal/market"
)

// handleHealth reports the health of the cache, vault and journal when configured
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	if s.opts.Cache != nil {
		checks["cache"] = "healthy"
		if err := s.opts.Cache.Ping(ctx); err != nil {
			// The cache is optional; a degraded cache does not fail the check.
			checks["cache"] = "degraded"
		}
	}
	if s.opts.Secrets != nil {
		checks["vault"] = "healthy"
		if err := s.opts.Secrets.Health(ctx); err != nil {
			// Credentials were read at startup; a lost vault degrades only.
			checks["vault"] = "degraded"
		}
	}
	if s.opts.Journal != nil {
		checks["database"] = "healthy"
		if err := s.opts.Journal.HealthCheck(ctx); err != nil {
			checks["database"] = "unhealthy"
			healthy = false
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":      status,
		"checks":      checks,
		"instruments": len(s.engine.Instruments()),
		"ws_clients":  s.hub.GetClientCount(),
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleCachedInstruments lists instruments with a snapshot in the cache
func (s *Server) handleCachedInstruments(c *gin.Context) {
	if s.opts.Cache == nil {
		errorResponse(c, http.StatusServiceUnavailable, "snapshot cache is disabled")
		return
	}
	insts, err := s.opts.Cache.Instruments(c.Request.Context())
	if err != nil {
		if errors.Is(err, cache.ErrCacheUnavailable) {
			errorResponse(c, http.StatusServiceUnavailable, "snapshot cache is unavailable")
			return
		}
		s.logger.Error("Failed to list cached instruments", "error", err)
		errorResponse(c, http.StatusInternalServerError, "failed to list cached instruments")
		return
	}
	successResponse(c, insts)
}

// handleInstruments lists registered instruments with their latest bar index
func (s *Server) handleInstruments(c *gin.Context) {
	type instrumentView struct {
		market.Instrument
		Index    *int                  `json:"index,omitempty"`
		Phase    analysis.SessionPhase `json:"phase,omitempty"`
		Active   int                   `json:"active_zones"`
		Tradable int                   `json:"tradable_zones"`
	}

	insts := s.engine.Instruments()
	out := make([]instrumentView, 0, len(insts))
	for _, inst := range insts {
		view := instrumentView{Instrument: inst}
		if snap, ok := s.engine.Latest(inst); ok {
			idx := snap.Index
			view.Index = &idx
			view.Phase = snap.Phase
			view.Active = len(snap.ActiveZones)
			view.Tradable = len(snap.TradableZones)
		}
		out = append(out, view)
	}
	successResponse(c, out)
}

// handleSnapshot returns the latest snapshot, falling back to the cache
func (s *Server) handleSnapshot(c *gin.Context) {
	inst, ok := s.instrument(c)
	if !ok {
		return
	}

	snap, found := s.engine.Latest(inst)
	source := "engine"
	if !found && s.opts.Cache != nil {
		cached, err := s.opts.Cache.LoadSnapshot(c.Request.Context(), inst)
		switch {
		case err == nil:
			snap, found, source = cached, true, "cache"
		case !errors.Is(err, cache.ErrCacheMiss) && !errors.Is(err, cache.ErrCacheUnavailable):
			s.logger.Warn("Cached snapshot lookup failed", "instrument", inst.Key(), "error", err)
		}
	}
	if !found {
		errorResponse(c, http.StatusNotFound, "no snapshot yet for "+inst.Key())
		return
	}

	successResponse(c, gin.H{
		"source":   source,
		"snapshot": sanitizeSnapshot(snap),
	})
}

// handleZones lists zones, optionally filtered by ?status=active|inverted|tradable
func (s *Server) handleZones(c *gin.Context) {
	inst, ok := s.instrument(c)
	if !ok {
		return
	}

	status := strings.ToLower(c.Query("status"))
	var (
		zones []analysis.Zone
		err   error
	)
	switch status {
	case "", string(analysis.ZoneActive), string(analysis.ZoneInverted):
		zones, err = s.engine.Zones(c.Request.Context(), inst, analysis.ZoneStatus(status))
	case "tradable":
		zones, err = s.engine.Zones(c.Request.Context(), inst, analysis.ZoneInverted)
		zones = tradableOnly(zones)
	default:
		errorResponse(c, http.StatusBadRequest, "status must be active, inverted or tradable")
		return
	}
	if err != nil {
		s.engineError(c, err)
		return
	}
	if zones == nil {
		zones = []analysis.Zone{}
	}
	successResponse(c, zones)
}

// handleMarkTraded consumes a tradable zone
func (s *Server) handleMarkTraded(c *gin.Context) {
	inst, ok := s.instrument(c)
	if !ok {
		return
	}
	id, ok := zoneID(c)
	if !ok {
		return
	}

	if err := s.engine.MarkTraded(c.Request.Context(), inst, id); err != nil {
		s.engineError(c, err)
		return
	}
	s.logger.Info("Zone marked traded", "instrument", inst.Key(), "zone_id", uint64(id), "operator", auth.GetOperator(c))
	successResponse(c, gin.H{"zone_id": id, "traded": true})
}

// handlePolicies lists the decision policies and whether each is enabled
func (s *Server) handlePolicies(c *gin.Context) {
	inst, ok := s.instrument(c)
	if !ok {
		return
	}
	policies, err := s.engine.Policies(c.Request.Context(), inst)
	if err != nil {
		s.engineError(c, err)
		return
	}
	successResponse(c, policies)
}

// handleSetPolicy enables or disables one policy: {"enabled": bool}
func (s *Server) handleSetPolicy(c *gin.Context) {
	inst, ok := s.instrument(c)
	if !ok {
		return
	}
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "body must be {\"enabled\": true|false}")
		return
	}

	name := c.Param("name")
	if err := s.engine.SetPolicyEnabled(c.Request.Context(), inst, name, *req.Enabled); err != nil {
		s.engineError(c, err)
		return
	}
	s.logger.Info("Policy toggled", "instrument", inst.Key(), "policy", name, "enabled", *req.Enabled, "operator", auth.GetOperator(c))
	successResponse(c, bot.PolicyInfo{Name: name, Enabled: *req.Enabled})
}

// handleSignals returns recently journaled signals
func (s *Server) handleSignals(c *gin.Context) {
	inst, ok := s.instrument(c)
	if !ok {
		return
	}
	if s.opts.Journal == nil {
		errorResponse(c, http.StatusServiceUnavailable, "signal journal is disabled")
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			errorResponse(c, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	signals, err := s.opts.Journal.RecentSignals(c.Request.Context(), inst, limit)
	if err != nil {
		s.logger.Error("Failed to read signals", "instrument", inst.Key(), "error", err)
		errorResponse(c, http.StatusInternalServerError, "failed to read signals")
		return
	}
	successResponse(c, signals)
}

func (s *Server) handleZoneHistory(c *gin.Context) {
	inst, ok := s.instrument(c)
	if !ok {
		return
	}
	id, ok := zoneID(c)
	if !ok {
		return
	}
	if s.opts.Journal == nil {
		errorResponse(c, http.StatusServiceUnavailable, "signal journal is disabled")
		return
	}

	history, err := s.opts.Journal.ZoneHistory(c.Request.Context(), inst, id)
	if err != nil {
		s.logger.Error("Failed to read zone history", "instrument", inst.Key(), "zone_id", uint64(id), "error", err)
		errorResponse(c, http.StatusInternalServerError, "failed to read zone history")
		return
	}
	if len(history) == 0 {
		errorResponse(c, http.StatusNotFound, "no journaled events for zone")
		return
	}
	successResponse(c, history)
}

func zoneID(c *gin.Context) (analysis.ZoneID, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		errorResponse(c, http.StatusBadRequest, "invalid zone id")
		return 0, false
	}
	return analysis.ZoneID(id), true
}

// instrument resolves :symbol/:tf to a registered instrument
func (s *Server) instrument(c *gin.Context) (market.Instrument, bool) {
	inst := market.Instrument{
		Symbol:    strings.ToUpper(c.Param("symbol")),
		Timeframe: c.Param("tf"),
	}
	for _, known := range s.engine.Instruments() {
		if known == inst {
			return inst, true
		}
	}
	errorResponse(c, http.StatusNotFound, "unknown instrument "+inst.Key())
	return market.Instrument{}, false
}

func (s *Server) engineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrZoneNotFound), errors.Is(err, bot.ErrUnknownInstrument):
		errorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, bot.ErrUnknownPolicy):
		errorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, bot.ErrRunnerStopped):
		errorResponse(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		errorResponse(c, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Error("Engine request failed", "error", err)
		errorResponse(c, http.StatusInternalServerError, err.Error())
	}
}

func tradableOnly(zones []analysis.Zone) []analysis.Zone {
	out := make([]analysis.Zone, 0, len(zones))
	for _, z := range zones {
		if z.Tradable() {
			out = append(out, z)
		}
	}
	return out
}

// sanitizeSnapshot blanks the prices of a non-finite bar so the snapshot
// can be encoded as JSON.
func sanitizeSnapshot(snap *engine.Snapshot) *engine.Snapshot {
	if snap.Bar.IsFinite() {
		return snap
	}
	out := snap.Clone()
	out.Bar = market.Bar{Time: snap.Bar.Time}
	return out
}
