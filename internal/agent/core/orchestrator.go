package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/carebrief/config"
	"github.com/mohammad-safakhou/carebrief/internal/agent/telemetry"
)

var orchestratorTracer trace.Tracer = otel.Tracer("carebrief/internal/agent/orchestrator")

// RunStore persists completed run records. Optional; a nil store
// disables persistence.
type RunStore interface {
	SaveRun(ctx context.Context, result RunResult) error
}

// Orchestrator drives one request through the four stages in order:
// plan, research, write, verify. Each Process call owns its state
// exclusively; a single orchestrator serves concurrent runs.
type Orchestrator struct {
	config    *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry

	planner    *Planner
	researcher *Researcher
	writer     *Writer
	verifier   *Verifier

	llmProvider LLMProvider
	store       RunStore
}

// NewOrchestrator creates an orchestrator around a retriever and an
// optional grade cache and run store.
func NewOrchestrator(cfg *config.Config, logger *log.Logger, tel *telemetry.Telemetry, retriever Retriever, cache GradeCache, store RunStore) (*Orchestrator, error) {
	llmProvider, err := NewLLMProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	return newOrchestrator(cfg, logger, tel, llmProvider, retriever, cache, store), nil
}

func newOrchestrator(cfg *config.Config, logger *log.Logger, tel *telemetry.Telemetry, llm LLMProvider, retriever Retriever, cache GradeCache, store RunStore) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCHESTRATOR] ", log.LstdFlags)
	}
	return &Orchestrator{
		config:      cfg,
		logger:      logger,
		telemetry:   tel,
		planner:     NewPlanner(cfg, llm, tel),
		researcher:  NewResearcher(cfg, llm, retriever, cache, tel),
		writer:      NewWriter(cfg, llm, tel),
		verifier:    NewVerifier(cfg, llm, tel),
		llmProvider: llm,
		store:       store,
	}
}

// LLM exposes the orchestrator's underlying LLM provider.
func (o *Orchestrator) LLM() LLMProvider {
	return o.llmProvider
}

// Process runs the full pipeline for one request. Stage errors abort
// the run after an error trace event; the business invalid outcome is
// not an error and comes back inside the result.
func (o *Orchestrator) Process(ctx context.Context, question string) (RunResult, error) {
	runID := uuid.NewString()
	result := RunResult{
		RunID:     runID,
		Question:  question,
		StartedAt: time.Now().UTC(),
	}

	ctx, span := orchestratorTracer.Start(ctx, "agent.process_request",
		trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	o.logger.Printf("run %s: %q", runID, question)

	// plan
	plan, err := o.stagePlan(ctx, runID, question)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	result.Plan = plan

	// research
	passages, rtrace, err := o.stageResearch(ctx, runID, plan)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	result.Passages = passages
	result.ResearchTrace = rtrace

	// write
	draft, err := o.stageWrite(ctx, runID, question, passages)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	result.Draft = draft

	// verify
	verified, err := o.stageVerify(ctx, runID, question, passages, draft)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	result.Verified = verified

	if verified.Invalid != "" {
		result.Invalid = verified.Invalid
		result.Sources = "Not found in sources."
	} else {
		result.Email = RenderEmail(verified.EmailTo, verified.EmailSubject, verified.EmailBody)
		result.Sources = RenderSources(passages, verified.CitationsUsed)
	}
	result.CompletedAt = time.Now().UTC()

	if o.store != nil {
		if err := o.store.SaveRun(ctx, result); err != nil {
			o.logger.Printf("run %s: saving result failed: %v", runID, err)
		}
	}

	span.SetAttributes(
		attribute.Int("passages.kept", len(passages)),
		attribute.Bool("invalid", result.Invalid != ""),
	)
	span.SetStatus(codes.Ok, "completed")
	return result, nil
}

func (o *Orchestrator) stagePlan(ctx context.Context, runID, question string) ([]string, error) {
	ctx, span := orchestratorTracer.Start(ctx, "agent.plan")
	defer span.End()

	o.telemetry.StageStart(runID, StagePlanner, map[string]interface{}{"question_len": len(question)})
	plan, err := o.planner.Plan(ctx, question)
	if err != nil {
		o.telemetry.StageError(runID, StagePlanner, err)
		o.telemetry.StageEnd(runID, StagePlanner, map[string]interface{}{"ok": false})
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	o.telemetry.StageEnd(runID, StagePlanner, map[string]interface{}{"queries": len(plan)})
	return plan, nil
}

func (o *Orchestrator) stageResearch(ctx context.Context, runID string, plan []string) ([]Passage, ResearchTrace, error) {
	ctx, span := orchestratorTracer.Start(ctx, "agent.research")
	defer span.End()

	o.telemetry.StageStart(runID, StageResearch, map[string]interface{}{"queries": len(plan)})
	passages, rtrace, err := o.researcher.Research(ctx, plan)
	if err != nil {
		o.telemetry.StageError(runID, StageResearch, err)
		o.telemetry.StageEnd(runID, StageResearch, map[string]interface{}{"ok": false})
		span.SetStatus(codes.Error, err.Error())
		return nil, ResearchTrace{}, err
	}
	o.telemetry.StageEnd(runID, StageResearch, map[string]interface{}{
		"kept":    rtrace.Kept,
		"dropped": rtrace.Dropped,
	})
	return passages, rtrace, nil
}

func (o *Orchestrator) stageWrite(ctx context.Context, runID, question string, passages []Passage) (Draft, error) {
	ctx, span := orchestratorTracer.Start(ctx, "agent.write")
	defer span.End()

	o.telemetry.StageStart(runID, StageWriter, map[string]interface{}{"passages": len(passages)})
	draft, err := o.writer.Write(ctx, question, passages)
	if err != nil {
		o.telemetry.StageError(runID, StageWriter, err)
		o.telemetry.StageEnd(runID, StageWriter, map[string]interface{}{"ok": false})
		span.SetStatus(codes.Error, err.Error())
		return Draft{}, err
	}
	o.telemetry.StageEnd(runID, StageWriter, map[string]interface{}{
		"invalid":   draft.Invalid != "",
		"citations": len(draft.CitationsUsed),
	})
	return draft, nil
}

func (o *Orchestrator) stageVerify(ctx context.Context, runID, question string, passages []Passage, draft Draft) (VerifiedResult, error) {
	ctx, span := orchestratorTracer.Start(ctx, "agent.verify")
	defer span.End()

	o.telemetry.StageStart(runID, StageVerifier, map[string]interface{}{
		"passages":  len(passages),
		"has_draft": draft.Invalid == "",
	})
	verified, err := o.verifier.Verify(ctx, question, passages, draft)
	if err != nil {
		o.telemetry.StageError(runID, StageVerifier, err)
		o.telemetry.StageEnd(runID, StageVerifier, map[string]interface{}{"ok": false})
		span.SetStatus(codes.Error, err.Error())
		return VerifiedResult{}, err
	}
	o.telemetry.StageEnd(runID, StageVerifier, map[string]interface{}{
		"invalid": verified.Invalid != "",
		"actions": len(verified.Actions),
		"issues":  len(verified.Issues),
	})
	return verified, nil
}
