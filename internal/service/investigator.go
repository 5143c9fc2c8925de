package service

import (
	"fmt"
	"time"

	"context"

	"github.com/google/uuid"

	"github.com/connexus-ai/docroute/internal/model"
)

// InvestigatorConfig carries the tunables spec.md §6 attributes to the
// retrieval and evaluation passes of a single investigation.
type InvestigatorConfig struct {
	Limit                   int
	SoftLimitMultiplier     float64
	Metric                  DistanceMetric
	Aggregation             AggregationMethod
	ScoreThreshold          *float64
	CandidateScoreThreshold float64
	SecondPassDampening     float64
	TopKMeanK               int
}

// Investigator orchestrates a single route's investigation end to end:
// state transitions, two-pass retrieval, candidate assembly, evaluation,
// and prediction persistence, per spec.md §4.6.
type Investigator struct {
	routes     RouteStore
	forwarded  ForwardedStore
	agents     AgentStore
	retriever  *Retriever
	evaluator  *CandidateEvaluator
	statemachine *RouteStateMachine
	cfg        InvestigatorConfig
}

func NewInvestigator(routes RouteStore, forwarded ForwardedStore, agents AgentStore, retriever *Retriever, evaluator *CandidateEvaluator, cfg InvestigatorConfig) *Investigator {
	return &Investigator{
		routes:       routes,
		forwarded:    forwarded,
		agents:       agents,
		retriever:    retriever,
		evaluator:    evaluator,
		statemachine: NewRouteStateMachine(routes),
		cfg:          cfg,
	}
}

// Investigate runs the full per-route algorithm for routeID. allowRecovery
// permits re-entry of a FAILED/TIMEOUT route into PENDING before the
// investigation proceeds.
func (inv *Investigator) Investigate(ctx context.Context, routeID uuid.UUID, allowRecovery bool) error {
	unlock, err := inv.routes.LockAdvisory(ctx, "route:"+routeID.String())
	if err != nil {
		return fmt.Errorf("investigator: acquiring lock for route %s: %w", routeID, err)
	}
	defer unlock()

	route, err := inv.routes.Get(ctx, routeID)
	if err != nil {
		return fmt.Errorf("investigator: loading route %s: %w", routeID, err)
	}
	if route.SenderID == nil {
		return model.NewBusinessLogic("investigator: route %s has no sender_id", routeID)
	}

	if route.Status != model.StatusPending {
		recoverable := route.Status == model.StatusFailed || route.Status == model.StatusTimeout
		if !allowRecovery || !recoverable {
			return model.NewOperationNotAllowed("investigator: route %s is %s, not eligible for investigation", routeID, route.Status)
		}
		if _, err := inv.statemachine.Recover(ctx, routeID); err != nil {
			return fmt.Errorf("investigator: recovering route %s: %w", routeID, err)
		}
	}

	if _, err := inv.statemachine.Start(ctx, routeID, false); err != nil {
		return model.NewOperationNotAllowed("investigator: route %s lost the race to IN_PROGRESS: %v", routeID, err)
	}

	if err := inv.run(ctx, route); err != nil {
		if _, failErr := inv.statemachine.Fail(ctx, routeID); failErr != nil {
			return fmt.Errorf("investigator: route %s failed (%v) and could not record FAILED: %w", routeID, err, failErr)
		}
		return err
	}
	return nil
}

// run performs steps 4-10: retrieval, fallback, candidate assembly,
// evaluation, and persistence. Any error here causes the caller to
// transition the route to FAILED.
func (inv *Investigator) run(ctx context.Context, route model.Route) error {
	senderID := *route.SenderID

	firstPass, err := inv.retriever.Retrieve(ctx, RetrieveParams{
		SourceDocumentID:    route.DocumentID,
		SenderID:            &senderID,
		Limit:               inv.cfg.Limit,
		SoftLimitMultiplier: inv.cfg.SoftLimitMultiplier,
		Metric:              inv.cfg.Metric,
		Aggregation:         inv.cfg.Aggregation,
		ScoreThreshold:      inv.cfg.ScoreThreshold,
		TopKMeanK:           inv.cfg.TopKMeanK,
	})
	if err != nil {
		return fmt.Errorf("investigator: first pass: %w", err)
	}

	excludeIDs := make([]uuid.UUID, len(firstPass))
	for i, sd := range firstPass {
		excludeIDs[i] = sd.Document.ID
	}

	secondPass, err := inv.retriever.Retrieve(ctx, RetrieveParams{
		SourceDocumentID:    route.DocumentID,
		SenderID:            nil,
		Limit:               inv.cfg.Limit,
		SoftLimitMultiplier: inv.cfg.SoftLimitMultiplier,
		Metric:              inv.cfg.Metric,
		Aggregation:         inv.cfg.Aggregation,
		ScoreThreshold:      inv.cfg.ScoreThreshold,
		ExcludeDocumentIDs:  excludeIDs,
		TopKMeanK:           inv.cfg.TopKMeanK,
	})
	if err != nil {
		return fmt.Errorf("investigator: second pass: %w", err)
	}
	dampening := inv.cfg.SecondPassDampening
	if dampening <= 0 {
		dampening = 0.55
	}
	for i := range secondPass {
		secondPass[i].Score *= dampening
	}

	similarDocuments := append(firstPass, secondPass...)

	if len(firstPass) == 0 && len(secondPass) > 0 {
		return inv.fallbackToDefaults(ctx, route)
	}

	potentialRecipients := make(map[uuid.UUID]*model.PotentialRecipient)
	for _, sd := range similarDocuments {
		known, err := inv.agents.ExistingRecipientsForSender(ctx, senderID, sd.Document.ID)
		if err != nil {
			return fmt.Errorf("investigator: loading known recipients of document %s: %w", sd.Document.ID, err)
		}
		for _, agent := range known {
			pr, ok := potentialRecipients[agent.ID]
			if !ok {
				pr = model.NewPotentialRecipient(agent.ID)
				potentialRecipients[agent.ID] = pr
			}
			pr.AddSimilarDoc(sd.Document.ID, sd.Score)
		}
	}

	if len(potentialRecipients) == 0 {
		if _, err := inv.statemachine.Complete(ctx, route.ID); err != nil {
			return fmt.Errorf("investigator: completing route %s: %w", route.ID, err)
		}
		return nil
	}

	if err := inv.evaluator.Evaluate(ctx, senderID, potentialRecipients, similarDocuments, inv.cfg.CandidateScoreThreshold); err != nil {
		return fmt.Errorf("investigator: evaluating candidates: %w", err)
	}

	var predictions []model.Forwarded
	now := timeNow()
	for agentID, pr := range potentialRecipients {
		if !pr.IsEligible {
			continue
		}
		score := pr.Score
		predictions = append(predictions, model.Forwarded{
			ID:          uuid.New(),
			DocumentID:  route.DocumentID,
			SenderID:    &senderID,
			RecipientID: agentID,
			RouteID:     &route.ID,
			IsValid:     nil,
			IsHidden:    false,
			Score:       &score,
			CreatedAt:   now,
		})
	}
	if len(predictions) > 0 {
		if err := inv.forwarded.AddMany(ctx, predictions); err != nil {
			return fmt.Errorf("investigator: persisting predictions for route %s: %w", route.ID, err)
		}
	}

	if _, err := inv.statemachine.Complete(ctx, route.ID); err != nil {
		return fmt.Errorf("investigator: completing route %s: %w", route.ID, err)
	}
	return nil
}

// fallbackToDefaults implements step 6: when only unscoped near-duplicates
// exist, route the document to every default recipient outright.
func (inv *Investigator) fallbackToDefaults(ctx context.Context, route model.Route) error {
	defaults, err := inv.agents.DefaultRecipients(ctx)
	if err != nil {
		return fmt.Errorf("investigator: loading default recipients: %w", err)
	}

	score := inv.cfg.CandidateScoreThreshold
	if score <= 0 {
		score = 0.99
	}
	now := timeNow()
	forwards := make([]model.Forwarded, 0, len(defaults))
	for _, agent := range defaults {
		s := score
		forwards = append(forwards, model.Forwarded{
			ID:          uuid.New(),
			DocumentID:  route.DocumentID,
			SenderID:    route.SenderID,
			RecipientID: agent.ID,
			RouteID:     &route.ID,
			IsValid:     nil,
			IsHidden:    false,
			Score:       &s,
			CreatedAt:   now,
		})
	}
	if len(forwards) > 0 {
		if err := inv.forwarded.AddMany(ctx, forwards); err != nil {
			return fmt.Errorf("investigator: persisting default-recipient forwardeds for route %s: %w", route.ID, err)
		}
	}

	if _, err := inv.statemachine.Complete(ctx, route.ID); err != nil {
		return fmt.Errorf("investigator: completing fallback route %s: %w", route.ID, err)
	}
	return nil
}

func timeNow() time.Time { return time.Now().UTC() }
