// Package monitor runs automations: it scans a post's comments, decides who
// qualifies and sends the DM or public reply each commenter is owed.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linkedin-autodm/internal/apperrors"
	"github.com/linkedin-autodm/internal/config"
	"github.com/linkedin-autodm/internal/engine/criteria"
	"github.com/linkedin-autodm/internal/engine/router"
	"github.com/linkedin-autodm/internal/engine/template"
	"github.com/linkedin-autodm/internal/ledger"
	"github.com/linkedin-autodm/internal/linkedin"
	"github.com/linkedin-autodm/internal/models"
	"github.com/linkedin-autodm/internal/quota"
	"github.com/linkedin-autodm/internal/storage"
	"github.com/linkedin-autodm/pkg/logger"
)

// Gateway is the LinkedIn side the agent drives
type Gateway interface {
	FetchComments(ctx context.Context, userID, postID string) ([]models.ScannedComment, error)
	SendMessage(ctx context.Context, userID string, msg linkedin.DirectMessage) (*linkedin.SendResult, error)
	ReplyToComment(ctx context.Context, userID, postID, commentID, text string) (*linkedin.SendResult, error)
}

// DeliveryTracker receives every delivery once it reaches a terminal state
type DeliveryTracker interface {
	TrackDelivery(ctx context.Context, automation *models.Automation, delivery *models.MessageDelivery) error
}

// Agent orchestrates automation runs
type Agent struct {
	repository storage.Repository
	gateway    Gateway
	ledger     *ledger.Ledger
	gate       *quota.Gate
	router     *router.Router
	tracker    DeliveryTracker
	delivery   config.DeliveryConfig
	drainBatch int
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	log        *logger.Logger
}

// NewAgent creates a new monitor agent
func NewAgent(
	repository storage.Repository,
	gateway Gateway,
	gate *quota.Gate,
	deliveryConfig config.DeliveryConfig,
	automationConfig config.AutomationConfig,
	log *logger.Logger,
) *Agent {
	if deliveryConfig.MaxAttempts < 1 {
		deliveryConfig.MaxAttempts = 1
	}
	drainBatch := automationConfig.DrainBatchSize
	if drainBatch <= 0 {
		drainBatch = 200
	}

	return &Agent{
		repository: repository,
		gateway:    gateway,
		ledger:     ledger.New(repository),
		gate:       gate,
		router:     router.New(router.Options{DMAfterFirstDegreeReply: automationConfig.DMAfterFirstDegreeReply}),
		delivery:   deliveryConfig,
		drainBatch: drainBatch,
		now:        time.Now,
		sleep:      sleepContext,
		log:        log.WithComponent("monitor"),
	}
}

// SetTracker attaches a delivery tracker
func (ag *Agent) SetTracker(t DeliveryTracker) {
	ag.tracker = t
}

// SetClock overrides the time source
func (ag *Agent) SetClock(now func() time.Time) {
	ag.now = now
	ag.ledger.SetClock(now)
}

// Ledger exposes the processed comment ledger
func (ag *Agent) Ledger() *ledger.Ledger {
	return ag.ledger
}

// RunResult contains the result of one automation run
type RunResult struct {
	AutomationID      string        `json:"automationId"`
	TotalComments     int           `json:"totalComments"`
	ProcessedComments int           `json:"processedComments"`
	MatchedCriteria   int           `json:"matchedCriteria"`
	MessagesSent      int           `json:"messagesSent"`
	RepliesSent       int           `json:"repliesSent"`
	Scheduled         int           `json:"scheduled"`
	Failed            int           `json:"failed"`
	Duration          time.Duration `json:"duration"`
}

// Run scans one automation's post and acts on every comment not yet in
// the ledger. Comments are handled sequentially in feed order.
func (ag *Agent) Run(ctx context.Context, automationID string) (*RunResult, error) {
	startTime := ag.now()
	result := &RunResult{AutomationID: automationID}
	log := ag.log.WithAutomationID(automationID)

	automation, err := ag.repository.GetAutomation(ctx, automationID)
	if err != nil {
		return nil, err
	}

	claimed, err := ag.repository.ClaimAutomationRun(ctx, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim automation run: %w", err)
	}
	if !claimed {
		if automation.Status == models.AutomationStatusProcessing {
			return nil, apperrors.ErrAutomationBusy
		}
		// Reload, another run may have finished between the read and the claim
		current, err := ag.repository.GetAutomation(ctx, automationID)
		if err == nil && current.Status == models.AutomationStatusProcessing {
			return nil, apperrors.ErrAutomationBusy
		}
		return nil, apperrors.ErrAutomationInactive
	}

	log.Info().
		Str("post_id", automation.PostID).
		Bool("first_scan", automation.IsFirstScan()).
		Msg("Starting automation run")

	comments, err := ag.gateway.FetchComments(ctx, automation.UserID, automation.PostID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch comments")
		ag.finish(automationID, storage.RunFinish{Status: models.AutomationStatusError, LastError: err.Error()}, log)
		return nil, fmt.Errorf("failed to fetch comments: %w", err)
	}

	result.TotalComments = len(comments)
	baseline := automation.IsFirstScan() && !automation.ProcessExistingComments

	for _, comment := range comments {
		if ctx.Err() != nil {
			break
		}
		ag.processComment(ctx, automation, comment, baseline, result, log)
	}

	result.Duration = ag.now().Sub(startTime)

	if err := ctx.Err(); err != nil {
		ag.finish(automationID, storage.RunFinish{Status: models.AutomationStatusError, LastError: err.Error()}, log)
		return result, err
	}

	scannedAt := ag.now().UTC()
	ag.finish(automationID, storage.RunFinish{Status: models.AutomationStatusActive, ScannedAt: &scannedAt}, log)

	log.Info().
		Int("total", result.TotalComments).
		Int("processed", result.ProcessedComments).
		Int("matched", result.MatchedCriteria).
		Int("messages_sent", result.MessagesSent).
		Int("replies_sent", result.RepliesSent).
		Int("scheduled", result.Scheduled).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("Automation run completed")

	return result, nil
}

// finish writes the run outcome back. It uses its own context so a
// cancelled run still leaves processing_comments.
func (ag *Agent) finish(automationID string, finish storage.RunFinish, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ag.repository.FinishAutomationRun(ctx, automationID, finish); err != nil {
		log.Error().Err(err).Msg("Failed to record run outcome")
	}
}

func (ag *Agent) processComment(ctx context.Context, a *models.Automation, c models.ScannedComment, baseline bool, result *RunResult, log *logger.Logger) {
	done, err := ag.ledger.AlreadyProcessed(ctx, a.ID, c.ID)
	if err != nil {
		log.Warn().Err(err).Str("comment_id", c.ID).Msg("Ledger check failed, skipping comment")
		result.Failed++
		return
	}
	if done {
		return
	}

	if baseline {
		if _, inserted, err := ag.ledger.Record(ctx, a.ID, c, ledger.Outcome{Status: models.ProcessingSkippedExisting}); err != nil {
			log.Warn().Err(err).Str("comment_id", c.ID).Msg("Failed to record existing comment")
			result.Failed++
		} else if inserted {
			result.ProcessedComments++
		}
		return
	}

	match := criteria.Evaluate(a.EngagementCriteria, a.Keywords, criteria.StateFrom(c))
	decision := router.Decision{Action: router.ActionSkip}
	if match.Matched {
		decision = ag.router.Route(a, c.Commenter.Degree)
	}

	outcome := ledger.Outcome{
		Status:         models.ProcessingPending,
		Matched:        match.Matched,
		KeywordMatched: match.KeywordMatched,
	}
	if decision.Action == router.ActionSkip {
		outcome.Status = models.ProcessingSkipped
	}

	row, inserted, err := ag.ledger.Record(ctx, a.ID, c, outcome)
	if err != nil {
		log.Warn().Err(err).Str("comment_id", c.ID).Msg("Failed to record comment")
		result.Failed++
		return
	}
	if !inserted {
		// Another run recorded it first
		return
	}

	result.ProcessedComments++
	if match.Matched {
		result.MatchedCriteria++
	}

	log.Debug().
		Str("comment_id", c.ID).
		Str("degree", string(c.Commenter.Degree)).
		Bool("matched", match.Matched).
		Str("action", string(decision.Action)).
		Msg("Comment evaluated")

	if decision.Action == router.ActionSkip {
		return
	}

	ag.act(ctx, a, row, decision, result, log)

	if err := ag.ledger.Update(ctx, row); err != nil {
		log.Error().Err(err).Str("comment_id", c.ID).Msg("Failed to save comment outcome")
	}
}

// act performs the routed sends for a freshly recorded comment
func (ag *Agent) act(ctx context.Context, a *models.Automation, row *models.ProcessedComment, decision router.Decision, result *RunResult, log *logger.Logger) {
	bindings := template.Bindings{FirstName: template.FirstName(row.CommenterName)}

	if decision.SendsReply() {
		text := router.ReplyText(row.CommenterName, template.Render(decision.ReplyTemplate, bindings))
		outcome, err := ag.sendReply(ctx, a, row, text, decision.SendDMAfterReply, nil)
		switch outcome {
		case sendFailed:
			log.Warn().Err(err).Str("comment_id", row.CommentID).Msg("Reply failed")
			ag.ledger.MarkFailed(row, err)
			result.Failed++
			return
		case sendScheduled:
			result.Scheduled++
			return
		}
		result.RepliesSent++
		if !decision.SendDMAfterReply {
			return
		}
	}

	if decision.SendsDM() {
		text := template.Render(a.MessageTemplate, bindings)
		outcome, err := ag.sendDM(ctx, a, row, text, nil)
		switch outcome {
		case sendFailed:
			log.Warn().Err(err).Str("comment_id", row.CommentID).Msg("DM failed")
			ag.ledger.MarkFailed(row, err)
			result.Failed++
		case sendScheduled:
			result.Scheduled++
		case sendDelivered:
			result.MessagesSent++
		}
	}
}

type sendOutcome int

const (
	sendDelivered sendOutcome = iota
	sendScheduled
	sendFailed
)

// sendDM reserves a message slot and delivers the DM, or defers it to the
// next window. pending is the deferred action being drained, if any.
func (ag *Agent) sendDM(ctx context.Context, a *models.Automation, row *models.ProcessedComment, text string, pending *models.ScheduledAction) (sendOutcome, error) {
	reservation, err := ag.gate.Reserve(ctx, a.UserID, models.CategoryMessage)
	if err != nil {
		row.DMStatus = models.DMStatusFailed
		return sendFailed, err
	}

	if !reservation.Immediate() {
		if err := ag.postpone(ctx, a, row, models.CategoryMessage, text, false, reservation.RunAt, pending); err != nil {
			row.DMStatus = models.DMStatusFailed
			return sendFailed, err
		}
		row.DMStatus = models.DMStatusScheduled
		return sendScheduled, nil
	}

	row.DMStatus = models.DMStatusPending
	msg := linkedin.DirectMessage{
		RecipientName:       row.CommenterName,
		RecipientProfileURL: row.CommenterProfileURL,
		Text:                text,
	}
	if a.HasAttachment() {
		msg.Attachment = &linkedin.Attachment{
			Type:     string(a.ResourceType),
			URL:      a.ResourceURL,
			FileName: a.FileName,
		}
	}

	err = ag.deliver(ctx, a, row, models.DeliveryKindMessage, text, func(ctx context.Context) (*linkedin.SendResult, error) {
		return ag.gateway.SendMessage(ctx, a.UserID, msg)
	})
	if err != nil {
		ag.release(ctx, reservation)
		row.DMStatus = models.DMStatusFailed
		return sendFailed, err
	}

	ag.complete(ctx, reservation)
	ag.ledger.MarkDMSent(row, ag.now())
	return sendDelivered, nil
}

// sendReply reserves a reply slot and posts the public reply, or defers it
func (ag *Agent) sendReply(ctx context.Context, a *models.Automation, row *models.ProcessedComment, text string, dmAfter bool, pending *models.ScheduledAction) (sendOutcome, error) {
	reservation, err := ag.gate.Reserve(ctx, a.UserID, models.CategoryReply)
	if err != nil {
		return sendFailed, err
	}

	if !reservation.Immediate() {
		if err := ag.postpone(ctx, a, row, models.CategoryReply, text, dmAfter, reservation.RunAt, pending); err != nil {
			return sendFailed, err
		}
		if dmAfter {
			row.DMStatus = models.DMStatusScheduled
		}
		return sendScheduled, nil
	}

	err = ag.deliver(ctx, a, row, models.DeliveryKindReply, text, func(ctx context.Context) (*linkedin.SendResult, error) {
		return ag.gateway.ReplyToComment(ctx, a.UserID, a.PostID, row.CommentID, text)
	})
	if err != nil {
		ag.release(ctx, reservation)
		if dmAfter {
			row.DMStatus = models.DMStatusFailed
		}
		return sendFailed, err
	}

	ag.complete(ctx, reservation)
	ag.ledger.MarkReplySent(row, ag.now())
	return sendDelivered, nil
}

// postpone persists a send for the next quota window. A drained action that
// is still over the limit is pushed back instead of duplicated.
func (ag *Agent) postpone(ctx context.Context, a *models.Automation, row *models.ProcessedComment, category models.Category, text string, dmAfter bool, runAt time.Time, pending *models.ScheduledAction) error {
	if pending != nil {
		pending.RunAt = runAt
		pending.Status = models.ScheduledActionPending
		return ag.repository.UpdateScheduledAction(ctx, pending)
	}

	action := &models.ScheduledAction{
		UserID:              a.UserID,
		AutomationID:        a.ID,
		ProcessedCommentID:  row.ID,
		Category:            category,
		RecipientName:       row.CommenterName,
		RecipientProfileURL: row.CommenterProfileURL,
		Content:             text,
		PostID:              a.PostID,
		CommentID:           row.CommentID,
		SendDMAfter:         dmAfter,
		RunAt:               runAt,
		Status:              models.ScheduledActionPending,
	}
	if err := ag.repository.CreateScheduledAction(ctx, action); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", category, err)
	}

	ag.log.Debug().
		Str("automation_id", a.ID).
		Str("comment_id", row.CommentID).
		Str("category", string(category)).
		Time("run_at", runAt).
		Msg("Send deferred to next window")
	return nil
}

func (ag *Agent) complete(ctx context.Context, r quota.Reservation) {
	if err := ag.gate.Complete(ctx, r); err != nil {
		ag.log.Warn().Err(err).Str("user_id", r.UserID).Msg("Failed to complete quota slot")
	}
}

func (ag *Agent) release(ctx context.Context, r quota.Reservation) {
	// The run may have been cancelled; the slot still has to come back
	ctx = context.WithoutCancel(ctx)
	if err := ag.gate.Release(ctx, r); err != nil {
		ag.log.Warn().Err(err).Str("user_id", r.UserID).Msg("Failed to release quota slot")
	}
}

// deliver runs one outbound send with inline retries and keeps its
// MessageDelivery row current
func (ag *Agent) deliver(
	ctx context.Context,
	a *models.Automation,
	row *models.ProcessedComment,
	kind models.DeliveryKind,
	content string,
	send func(ctx context.Context) (*linkedin.SendResult, error),
) error {
	delivery := &models.MessageDelivery{
		AutomationID:        a.ID,
		UserID:              a.UserID,
		Kind:                kind,
		RecipientName:       row.CommenterName,
		RecipientProfileURL: row.CommenterProfileURL,
		Content:             content,
		DeliveryStatus:      models.DeliveryStatusPending,
	}
	if row.ID != "" {
		id := row.ID
		delivery.ProcessedCommentID = &id
	}
	if err := ag.repository.CreateDelivery(ctx, delivery); err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}

	var lastErr error
	for delivery.Attempts < ag.delivery.MaxAttempts {
		delivery.Attempts++

		res, err := send(ctx)
		if err == nil {
			now := ag.now().UTC()
			delivery.DeliveryStatus = models.DeliveryStatusSent
			delivery.SentAt = &now
			delivery.DeliveredAt = &now
			delivery.ErrorMessage = ""
			if res != nil {
				delivery.ExternalID = res.ID
			}
			ag.saveDelivery(ctx, a, delivery)
			return nil
		}

		lastErr = err
		delivery.ErrorMessage = err.Error()

		if !apperrors.IsRetryable(err) || delivery.Attempts >= ag.delivery.MaxAttempts {
			break
		}

		delivery.DeliveryStatus = models.DeliveryStatusRetry
		ag.saveDelivery(ctx, a, delivery)

		ag.log.Debug().
			Err(err).
			Int("attempt", delivery.Attempts).
			Str("kind", string(kind)).
			Msg("Delivery failed, retrying")

		if err := ag.sleep(ctx, ag.delivery.RetryBackoff); err != nil {
			lastErr = err
			break
		}
	}

	delivery.DeliveryStatus = models.DeliveryStatusFailed
	ag.saveDelivery(context.WithoutCancel(ctx), a, delivery)
	return lastErr
}

func (ag *Agent) saveDelivery(ctx context.Context, a *models.Automation, d *models.MessageDelivery) {
	if err := ag.repository.UpdateDelivery(ctx, d); err != nil {
		ag.log.Error().Err(err).Str("delivery_id", d.ID).Msg("Failed to update delivery")
	}
	if ag.tracker == nil || !d.IsTerminal() {
		return
	}
	if err := ag.tracker.TrackDelivery(ctx, a, d); err != nil {
		ag.log.Warn().Err(err).Str("delivery_id", d.ID).Msg("Failed to track delivery")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isGone reports whether an automation disappeared (archived or deleted)
func isGone(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}
