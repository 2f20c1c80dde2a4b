package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dotagent/office/internal/agent"
	"github.com/dotagent/office/internal/event"
	"github.com/dotagent/office/internal/extract"
)

// Results summarizes a scripted run in mission_complete.
type Results struct {
	TasksCompleted int   `json:"tasksCompleted"`
	Collaborations int   `json:"collaborations"`
	DurationMs     int64 `json:"duration"`
}

// script is the shape shared by simulation and the model-backed hybrid
// path: the same agent choreography with different words.
type script struct {
	leo     string
	momo    string
	alex    string
	collab  string
	tasks   []string
	summary string
	// extract runs the markup extractors over each agent message
	extract bool
}

func simulationScript() script {
	return script{
		leo:     "Analyzing mission requirements...",
		momo:    "Breaking down tasks and creating plan...",
		alex:    "Reviewing technical feasibility...",
		collab:  "[COLLABORATION] Team discussing implementation strategy",
		summary: "[SIMULATION] Mission analyzed successfully.",
	}
}

func (e *Engine) runSimulation(ctx context.Context, em *emitter, req Request) error {
	done, err := e.play(ctx, em, req, simulationScript())
	if err != nil {
		return err
	}
	return em.send(done)
}

// play runs the choreography and returns the completion payload without
// sending it, so callers can act before the terminal event goes out.
func (e *Engine) play(ctx context.Context, em *emitter, req Request, s script) (event.MissionComplete, error) {
	started := time.Now()
	crew := agent.NewCrew()
	t := e.cfg.Timing
	collaborations := 1

	say := func(id agent.ID, text string) error {
		if err := em.send(event.AgentMessage{AgentID: id, Message: text}); err != nil {
			return err
		}
		if !s.extract {
			return nil
		}
		found := extract.All(text, id, req.MissionID)
		for _, p := range found {
			if _, ok := p.(event.Collaboration); ok {
				collaborations++
			}
		}
		return em.sendAll(found)
	}

	steps := []func() error{
		func() error {
			return em.log(event.LogMission, "[MISSION START] "+req.Mission)
		},
		func() error { return e.sleep(ctx, t.Start) },
		func() error { return transition(em, crew, agent.Leo, agent.CmdBeginWork, "") },
		func() error { return say(agent.Leo, s.leo) },
		func() error { return e.sleep(ctx, t.Analyze) },
		func() error { return transition(em, crew, agent.Momo, agent.CmdArriveAt, agent.ZoneMeeting) },
		func() error { return e.sleep(ctx, t.Move) },
		func() error { return transition(em, crew, agent.Momo, agent.CmdStartTalking, "") },
		func() error { return say(agent.Momo, s.momo) },
		func() error { return e.sleep(ctx, t.Plan) },
		func() error { return transition(em, crew, agent.Alex, agent.CmdBeginWork, "") },
		func() error { return say(agent.Alex, s.alex) },
		func() error { return e.sleep(ctx, t.Review) },
		func() error {
			for i, task := range s.tasks {
				err := em.send(event.TaskProgress{
					TaskID:   fmt.Sprintf("task-%d", i+1),
					TaskName: task,
					AgentID:  agent.Team[i%len(agent.Team)],
					Progress: 100,
					Status:   event.TaskCompleted,
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
		func() error { return em.log(event.LogCollab, s.collab) },
		func() error { return e.sleep(ctx, t.Wrap) },
		func() error {
			for _, id := range agent.Team {
				if err := transition(em, crew, id, agent.CmdFinish, ""); err != nil {
					return err
				}
			}
			return nil
		},
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return event.MissionComplete{}, err
		}
	}

	return event.MissionComplete{
		MissionID: req.MissionID,
		Success:   true,
		Message:   s.summary,
		Results: Results{
			TasksCompleted: max(len(s.tasks), 1),
			Collaborations: collaborations,
			DurationMs:     time.Since(started).Milliseconds(),
		},
	}, nil
}

// transition applies cmd to the agent's machine and emits the new status.
func transition(em *emitter, crew *agent.Crew, id agent.ID, cmd agent.Command, zone agent.Zone) error {
	st, err := crew.Do(id, cmd, zone)
	if err != nil {
		return fmt.Errorf("agent %s: %w", id, err)
	}
	return em.send(event.StatusOf(st))
}
