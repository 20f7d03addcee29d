package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linkedin-autodm/internal/models"
)

func withReplies() *models.Automation {
	return &models.Automation{
		ReplyTemplate1stDegree:    "Sent you a DM {firstName}!",
		ReplyTemplateNon1stDegree: "Connect with me {firstName} and I'll send it",
	}
}

func TestRoute_NoReplyTemplates(t *testing.T) {
	r := New(Options{DMAfterFirstDegreeReply: true})
	a := &models.Automation{}

	assert.Equal(t, Decision{Action: ActionSendDM}, r.Route(a, models.DegreeFirst))
	assert.Equal(t, ActionSkip, r.Route(a, models.DegreeSecond).Action)
	assert.Equal(t, ActionSkip, r.Route(a, models.DegreeThird).Action)
	assert.Equal(t, ActionSkip, r.Route(a, models.DegreeUnknown).Action)
}

func TestRoute_WithReplyTemplates(t *testing.T) {
	r := New(Options{DMAfterFirstDegreeReply: true})
	a := withReplies()

	first := r.Route(a, models.DegreeFirst)
	assert.Equal(t, ActionReplyThenConnect, first.Action)
	assert.Equal(t, a.ReplyTemplate1stDegree, first.ReplyTemplate)
	assert.True(t, first.SendsDM())
	assert.True(t, first.SendsReply())

	for _, d := range []models.ConnectionDegree{models.DegreeSecond, models.DegreeThird} {
		dec := r.Route(a, d)
		assert.Equal(t, ActionReplyThenConnect, dec.Action)
		assert.Equal(t, a.ReplyTemplateNon1stDegree, dec.ReplyTemplate)
		assert.False(t, dec.SendsDM())
	}

	assert.Equal(t, ActionSkip, r.Route(a, models.DegreeUnknown).Action)
	assert.Equal(t, ActionSkip, r.Route(a, "").Action)
}

func TestRoute_ReplyOnlyForFirstDegree(t *testing.T) {
	r := New(Options{DMAfterFirstDegreeReply: false})
	dec := r.Route(withReplies(), models.DegreeFirst)
	assert.Equal(t, ActionReplyThenConnect, dec.Action)
	assert.False(t, dec.SendsDM())
}

func TestRoute_PartialTemplatesTreatedAsDisabled(t *testing.T) {
	r := New(Options{DMAfterFirstDegreeReply: true})
	a := &models.Automation{ReplyTemplate1stDegree: "hi"}
	assert.Equal(t, ActionSendDM, r.Route(a, models.DegreeFirst).Action)
	assert.Equal(t, ActionSkip, r.Route(a, models.DegreeSecond).Action)
}

func TestReplyText(t *testing.T) {
	assert.Equal(t, "@Jane Doe Thanks Jane!", ReplyText("Jane Doe", "Thanks Jane!"))
	assert.Equal(t, "Thanks!", ReplyText("  ", "Thanks!"))
}
