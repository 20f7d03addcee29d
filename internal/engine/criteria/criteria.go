// Package criteria decides whether a commenter satisfies an automation's
// engagement requirements.
package criteria

import (
	"strings"

	"github.com/linkedin-autodm/internal/apperrors"
	"github.com/linkedin-autodm/internal/models"
)

// State is the observed engagement of one commenter
type State struct {
	HasLiked     bool
	HasFollowed  bool
	HasConnected bool
	CommentText  string
}

// Result is the verdict for one commenter
type Result struct {
	Matched        bool
	KeywordMatched *string
}

// StateFrom builds the evaluation input from a scanned comment. A 1st
// degree commenter counts as connected even if the gateway did not say so.
func StateFrom(c models.ScannedComment) State {
	return State{
		HasLiked:     c.HasLiked,
		HasFollowed:  c.HasFollowed,
		HasConnected: c.IsConnected || c.Commenter.Degree == models.DegreeFirst,
		CommentText:  c.Text,
	}
}

// Evaluate ANDs every enabled requirement. hasCommented is satisfied by a
// case-insensitive substring match of any keyword, in order; the configured
// keyword (not the text fragment) is returned.
//
// The configuration is assumed valid. A criteria set with nothing enabled
// never matches.
func Evaluate(c models.EngagementCriteria, keywords []string, s State) Result {
	if !c.Any() {
		return Result{}
	}
	if c.HasLiked && !s.HasLiked {
		return Result{}
	}
	if c.HasFollowed && !s.HasFollowed {
		return Result{}
	}
	if c.HasConnected && !s.HasConnected {
		return Result{}
	}

	var matched *string
	if c.HasCommented {
		kw, ok := MatchKeyword(keywords, s.CommentText)
		if !ok {
			return Result{}
		}
		matched = &kw
	}
	return Result{Matched: true, KeywordMatched: matched}
}

// MatchKeyword returns the first keyword contained in text, ignoring case
func MatchKeyword(keywords []string, text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, kw := range keywords {
		needle := strings.ToLower(strings.TrimSpace(kw))
		if needle == "" {
			continue
		}
		if strings.Contains(lowered, needle) {
			return kw, true
		}
	}
	return "", false
}

// Validate enforces the write-time rules for a criteria configuration
func Validate(c models.EngagementCriteria, keywords []string) error {
	if !c.Any() {
		return apperrors.Invalid("engagementCriteria", "at least one engagement requirement must be enabled")
	}
	if c.HasCommented {
		for _, kw := range keywords {
			if strings.TrimSpace(kw) != "" {
				return nil
			}
		}
		return apperrors.Invalid("keyword", "is required when hasCommented is enabled")
	}
	return nil
}
