// Package router picks the outreach path for a matched commenter based on
// connection degree and the automation's reply templates.
package router

import (
	"strings"

	"github.com/linkedin-autodm/internal/models"
)

// Action is the outreach path chosen for a commenter
type Action string

const (
	ActionSendDM           Action = "send_dm"
	ActionReplyThenConnect Action = "reply_then_connect"
	ActionSkip             Action = "skip"
)

// Decision is the router's output
type Decision struct {
	Action Action
	// ReplyTemplate is the degree-appropriate reply body (unrendered)
	ReplyTemplate string
	// SendDMAfterReply is set when a DM follows the public reply
	SendDMAfterReply bool
}

// SendsDM returns true when the decision results in a direct message
func (d Decision) SendsDM() bool {
	return d.Action == ActionSendDM || (d.Action == ActionReplyThenConnect && d.SendDMAfterReply)
}

// SendsReply returns true when the decision posts a public reply
func (d Decision) SendsReply() bool {
	return d.Action == ActionReplyThenConnect
}

// Options holds behaviour switches
type Options struct {
	// DMAfterFirstDegreeReply sends the DM right after replying to a
	// 1st degree commenter. There is already a message channel.
	DMAfterFirstDegreeReply bool
}

// Router routes matched commenters
type Router struct {
	opts Options
}

// New creates a router
func New(opts Options) *Router {
	return &Router{opts: opts}
}

// Route decides what to do for a commenter of the given degree.
// Unknown degrees are always skipped.
func (r *Router) Route(a *models.Automation, degree models.ConnectionDegree) Decision {
	if degree != models.DegreeFirst && degree != models.DegreeSecond && degree != models.DegreeThird {
		return Decision{Action: ActionSkip}
	}

	if !a.HasReplyTemplates() {
		if degree == models.DegreeFirst {
			return Decision{Action: ActionSendDM}
		}
		// A non-connection cannot be messaged without the reply path
		return Decision{Action: ActionSkip}
	}

	if degree == models.DegreeFirst {
		return Decision{
			Action:           ActionReplyThenConnect,
			ReplyTemplate:    a.ReplyTemplate1stDegree,
			SendDMAfterReply: r.opts.DMAfterFirstDegreeReply,
		}
	}
	return Decision{
		Action:        ActionReplyThenConnect,
		ReplyTemplate: a.ReplyTemplateNon1stDegree,
	}
}

// ReplyText composes the public reply: "@{name} {body}"
func ReplyText(name, body string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return body
	}
	return "@" + name + " " + body
}
