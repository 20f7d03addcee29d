package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/linkedin-autodm/internal/engine/template"
	"github.com/linkedin-autodm/internal/models"
)

// DrainResult summarises one pass over due deferred actions
type DrainResult struct {
	Due      int           `json:"due"`
	Claimed  int           `json:"claimed"`
	Executed int           `json:"executed"`
	Deferred int           `json:"deferred"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// DrainScheduled executes deferred sends whose window has opened, oldest
// first. Each action is claimed in the store before it is sent, so drains
// running in other processes never deliver it twice. Actions still over the
// limit move back to pending in the following window.
func (ag *Agent) DrainScheduled(ctx context.Context) (*DrainResult, error) {
	startTime := ag.now()
	result := &DrainResult{}

	actions, err := ag.repository.ListDueScheduledActions(ctx, ag.now(), ag.drainBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to list due actions: %w", err)
	}
	result.Due = len(actions)

	// Automations are loaded once per pass
	automations := make(map[string]*models.Automation)

	for _, action := range actions {
		if ctx.Err() != nil {
			break
		}

		claimed, err := ag.repository.ClaimScheduledAction(ctx, action.ID)
		if err != nil {
			ag.log.Warn().Err(err).Str("action_id", action.ID).Msg("Failed to claim deferred action")
			result.Failed++
			continue
		}
		if !claimed {
			// another drain owns it
			continue
		}
		action.Status = models.ScheduledActionRunning
		result.Claimed++

		a, ok := automations[action.AutomationID]
		if !ok {
			a, err = ag.repository.GetAutomation(ctx, action.AutomationID)
			if err != nil && !isGone(err) {
				ag.log.Warn().Err(err).Str("action_id", action.ID).Msg("Failed to load automation for deferred action")
				ag.unclaim(ctx, action)
				result.Failed++
				continue
			}
			automations[action.AutomationID] = a
		}

		if a == nil {
			ag.failAction(ctx, action, "automation archived")
			result.Failed++
			continue
		}

		switch ag.runAction(ctx, a, action) {
		case sendDelivered:
			result.Executed++
		case sendScheduled:
			result.Deferred++
		case sendFailed:
			result.Failed++
		}
	}

	result.Duration = ag.now().Sub(startTime)

	ag.log.Info().
		Int("due", result.Due).
		Int("claimed", result.Claimed).
		Int("executed", result.Executed).
		Int("deferred", result.Deferred).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("Deferred actions drained")

	return result, ctx.Err()
}

func (ag *Agent) runAction(ctx context.Context, a *models.Automation, action *models.ScheduledAction) sendOutcome {
	log := ag.log.WithAutomationID(a.ID)

	row, err := ag.ledger.Get(ctx, action.ProcessedCommentID)
	if err != nil {
		log.Warn().Err(err).Str("action_id", action.ID).Msg("Deferred action has no ledger row")
		ag.failAction(ctx, action, err.Error())
		return sendFailed
	}

	var outcome sendOutcome
	switch action.Category {
	case models.CategoryReply:
		outcome, err = ag.sendReply(ctx, a, row, action.Content, action.SendDMAfter, action)
		if outcome == sendDelivered && action.SendDMAfter {
			// The chained DM takes its own message slot and may be deferred again
			text := template.Render(a.MessageTemplate, template.Bindings{FirstName: template.FirstName(row.CommenterName)})
			if dmOutcome, dmErr := ag.sendDM(ctx, a, row, text, nil); dmOutcome == sendFailed {
				log.Warn().Err(dmErr).Str("comment_id", row.CommentID).Msg("DM after deferred reply failed")
				ag.ledger.MarkFailed(row, dmErr)
			}
		}
	default:
		outcome, err = ag.sendDM(ctx, a, row, action.Content, action)
	}

	switch outcome {
	case sendDelivered:
		action.Status = models.ScheduledActionDone
		action.ErrorMessage = ""
		if err := ag.repository.UpdateScheduledAction(ctx, action); err != nil {
			log.Error().Err(err).Str("action_id", action.ID).Msg("Failed to mark deferred action done")
		}
	case sendFailed:
		ag.ledger.MarkFailed(row, err)
		ag.failAction(ctx, action, errorText(err))
	}

	if err := ag.ledger.Update(ctx, row); err != nil {
		log.Error().Err(err).Str("comment_id", row.CommentID).Msg("Failed to save comment outcome")
	}

	log.Debug().
		Str("action_id", action.ID).
		Str("category", string(action.Category)).
		Int("outcome", int(outcome)).
		Msg("Deferred action processed")

	return outcome
}

func (ag *Agent) failAction(ctx context.Context, action *models.ScheduledAction, reason string) {
	action.Status = models.ScheduledActionFailed
	action.ErrorMessage = reason
	if err := ag.repository.UpdateScheduledAction(ctx, action); err != nil {
		ag.log.Error().Err(err).Str("action_id", action.ID).Msg("Failed to mark deferred action failed")
	}
}

// unclaim hands the action back to the next drain
func (ag *Agent) unclaim(ctx context.Context, action *models.ScheduledAction) {
	action.Status = models.ScheduledActionPending
	if err := ag.repository.UpdateScheduledAction(ctx, action); err != nil {
		ag.log.Error().Err(err).Str("action_id", action.ID).Msg("Failed to release deferred action")
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
