package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dotagent/office/internal/config"
	"github.com/dotagent/office/internal/event"
	"github.com/dotagent/office/internal/llm"
	"github.com/dotagent/office/internal/usage"
)

const (
	hybridHitLog    = "[HYBRID MODE] Cache hit - replaying cached session"
	hybridMissLog   = "[HYBRID MODE] Cache miss - executing mission and caching result"
	hybridCachedLog = "[HYBRID MODE] Session cached successfully"
)

func (e *Engine) runHybrid(ctx context.Context, em *emitter, req Request) error {
	tokens := usage.EstimateTokens(req.Mission)

	if e.cfg.CacheEnabled {
		if cached, ok := e.deps.Cache.Get(req.Mission); ok {
			slog.Info("mission cache hit", "mission", req.MissionID, "events", len(cached))
			em.markCached()
			if err := em.log(event.LogSystem, hybridHitLog); err != nil {
				return err
			}
			e.track(ctx, MissionEndpoint, tokens, config.ModeHybrid, true)
			return e.replay(em, req.MissionID, cached)
		}
	}

	slog.Info("mission cache miss", "mission", req.MissionID)
	if err := em.log(event.LogSystem, hybridMissLog); err != nil {
		return err
	}

	em.startCapture()
	done, spent, err := e.playHybrid(ctx, em, req)
	captured := em.stopCapture()
	if err != nil {
		return err
	}
	e.track(ctx, MissionEndpoint, tokens+spent, config.ModeHybrid, false)

	if e.cfg.CacheEnabled {
		e.deps.Cache.Set(req.Mission, append(captured, event.New(done)))
		if err := em.log(event.LogSystem, hybridCachedLog); err != nil {
			return err
		}
	}
	return em.send(done)
}

// playHybrid asks the model for a plan and plays it, or plays the canned
// script when the model is unavailable or fails. spent is the model token
// usage, zero on the canned path.
func (e *Engine) playHybrid(ctx context.Context, em *emitter, req Request) (event.MissionComplete, int, error) {
	model := e.deps.Model
	if model == nil || !model.Ready() {
		if err := em.log(event.LogSystem, "[HYBRID MODE] Model unavailable, set ANTHROPIC_API_KEY to enable analysis. Running simulation."); err != nil {
			return event.MissionComplete{}, 0, err
		}
		done, err := e.play(ctx, em, req, simulationScript())
		return done, 0, err
	}

	analysis, err := model.AnalyzeMission(ctx, req.Mission)
	if err != nil {
		if ctx.Err() != nil {
			return event.MissionComplete{}, 0, ctx.Err()
		}
		slog.Warn("mission analysis failed, falling back to simulation", "mission", req.MissionID, "error", err)
		done, err := e.play(ctx, em, req, simulationScript())
		return done, 0, err
	}

	done, err := e.play(ctx, em, req, analysisScript(analysis))
	return done, analysis.Usage.InputTokens + analysis.Usage.OutputTokens, err
}

func analysisScript(a *llm.Analysis) script {
	s := simulationScript()
	s.extract = true
	s.tasks = a.Tasks
	if a.Agents.Leo != "" {
		s.leo = a.Agents.Leo
	}
	if a.Agents.Momo != "" {
		s.momo = a.Agents.Momo
	}
	if a.Agents.Alex != "" {
		s.alex = a.Agents.Alex
	}
	if summary := strings.TrimSpace(a.Analysis); summary != "" {
		s.collab = "[COLLABORATION] " + firstLine(summary)
		s.summary = "[HYBRID] " + firstLine(summary)
	} else {
		s.summary = "[HYBRID] Mission analyzed successfully."
	}
	return s
}

// replay re-emits a cached session. Timestamps are restamped from now at a
// fixed spacing so the replay costs no wall-clock time.
func (e *Engine) replay(em *emitter, missionID string, cached []event.Event) error {
	base := time.Now().UTC()
	for i, ev := range cached {
		ev = ev.WithMissionID(missionID).At(base.Add(time.Duration(i) * e.cfg.ReplaySpacing))
		if err := em.emit(ev); err != nil {
			return err
		}
	}
	if !em.finished() {
		// recordings always end with mission_complete, but a replay must
		// still terminate if one somehow does not
		return em.send(event.MissionComplete{MissionID: missionID, Success: true, Message: "[HYBRID MODE] Cached session replayed"})
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
