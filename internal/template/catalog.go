package template

import (
	"fmt"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
)

// ID names one entry of the closed template catalog. Unrecognized identifiers
// are a terminal dispatch error, never a silent default.
type ID string

const (
	WelcomeEmail       ID = "welcome-email"
	Reminder24hEmail   ID = "reminder-24h-email"
	Reminder24hSMS     ID = "reminder-24h-sms"
	Reminder1hEmail    ID = "reminder-1h-email"
	Reminder1hSMS      ID = "reminder-1h-sms"
	ThankYouEmail      ID = "thank-you-email"
	SorryMissedEmail   ID = "sorry-missed-email"
	ResourcesEmail     ID = "resources-email"
	NurtureEmail       ID = "nurture-email"
	ReengagementEmail  ID = "reengagement-email"
	ReengagementSMS    ID = "reengagement-sms"
	FinalFollowupEmail ID = "final-followup-email"
)

// Definition is one catalog entry. Email entries carry a subject plus text
// and HTML bodies; SMS entries carry only Text.
type Definition struct {
	ID      ID
	Channel model.Channel
	Subject string
	Text    string
	HTML    string
}

var catalog = map[ID]Definition{
	WelcomeEmail: {
		ID:      WelcomeEmail,
		Channel: model.ChannelEmail,
		Subject: "You're registered for {{event_title}}",
		Text:    "Hi {{first_name}},\n\nYou're confirmed for {{event_title}} on {{event_date}}.\n\nJoin here when it's time: {{join_url}}\n\nSee you there!",
		HTML:    "<p>Hi {{first_name}},</p><p>You're confirmed for <strong>{{event_title}}</strong> on {{event_date}}.</p><p><a href=\"{{join_url}}\">Join the event</a></p><p>See you there!</p>",
	},
	Reminder24hEmail: {
		ID:      Reminder24hEmail,
		Channel: model.ChannelEmail,
		Subject: "{{event_title}} is tomorrow",
		Text:    "Hi {{first_name}},\n\n{{event_title}} starts tomorrow at {{event_time}}.\n\nYour join link: {{join_url}}",
		HTML:    "<p>Hi {{first_name}},</p><p><strong>{{event_title}}</strong> starts tomorrow at {{event_time}}.</p><p><a href=\"{{join_url}}\">Your join link</a></p>",
	},
	Reminder24hSMS: {
		ID:      Reminder24hSMS,
		Channel: model.ChannelSMS,
		Text:    "Hi {{first_name}}, reminder: {{event_title}} is tomorrow at {{event_time}}. Join: {{join_url}}",
	},
	Reminder1hEmail: {
		ID:      Reminder1hEmail,
		Channel: model.ChannelEmail,
		Subject: "{{event_title}} starts in 1 hour",
		Text:    "Hi {{first_name}},\n\n{{event_title}} starts in one hour.\n\nJoin now: {{join_url}}",
		HTML:    "<p>Hi {{first_name}},</p><p><strong>{{event_title}}</strong> starts in one hour.</p><p><a href=\"{{join_url}}\">Join now</a></p>",
	},
	Reminder1hSMS: {
		ID:      Reminder1hSMS,
		Channel: model.ChannelSMS,
		Text:    "{{event_title}} starts in 1 hour! Join: {{join_url}}",
	},
	ThankYouEmail: {
		ID:      ThankYouEmail,
		Channel: model.ChannelEmail,
		Subject: "Thanks for joining {{event_title}}",
		Text:    "Hi {{first_name}},\n\nThanks for attending {{event_title}}. We'll send the recording and resources shortly.",
		HTML:    "<p>Hi {{first_name}},</p><p>Thanks for attending <strong>{{event_title}}</strong>. We'll send the recording and resources shortly.</p>",
	},
	SorryMissedEmail: {
		ID:      SorryMissedEmail,
		Channel: model.ChannelEmail,
		Subject: "Sorry we missed you at {{event_title}}",
		Text:    "Hi {{first_name}},\n\nSorry we missed you at {{event_title}}. The recording is on its way.",
		HTML:    "<p>Hi {{first_name}},</p><p>Sorry we missed you at <strong>{{event_title}}</strong>. The recording is on its way.</p>",
	},
	ResourcesEmail: {
		ID:      ResourcesEmail,
		Channel: model.ChannelEmail,
		Subject: "Your resources from {{event_title}}",
		Text:    "Hi {{first_name}},\n\nHere are the recording and resources from {{event_title}}.",
		HTML:    "<p>Hi {{first_name}},</p><p>Here are the recording and resources from <strong>{{event_title}}</strong>.</p>",
	},
	NurtureEmail: {
		ID:      NurtureEmail,
		Channel: model.ChannelEmail,
		Subject: "Going deeper after {{event_title}}",
		Text:    "Hi {{first_name}},\n\nA few days on from {{event_title}}, here's what to explore next.",
		HTML:    "<p>Hi {{first_name}},</p><p>A few days on from <strong>{{event_title}}</strong>, here's what to explore next.</p>",
	},
	ReengagementEmail: {
		ID:      ReengagementEmail,
		Channel: model.ChannelEmail,
		Subject: "The {{event_title}} recording is waiting for you",
		Text:    "Hi {{first_name}},\n\nYou missed {{event_title}}, but the recording is still available.",
		HTML:    "<p>Hi {{first_name}},</p><p>You missed <strong>{{event_title}}</strong>, but the recording is still available.</p>",
	},
	ReengagementSMS: {
		ID:      ReengagementSMS,
		Channel: model.ChannelSMS,
		Text:    "Hi {{first_name}}, the {{event_title}} recording is ready for you. Reply STOP to opt out.",
	},
	FinalFollowupEmail: {
		ID:      FinalFollowupEmail,
		Channel: model.ChannelEmail,
		Subject: "Last call: {{event_title}} replay",
		Text:    "Hi {{first_name}},\n\nThe {{event_title}} replay comes down soon. This is the last reminder.",
		HTML:    "<p>Hi {{first_name}},</p><p>The <strong>{{event_title}}</strong> replay comes down soon. This is the last reminder.</p>",
	},
}

// Lookup resolves a template identifier against the catalog. The channel must
// match the template's channel; a mismatch or unknown identifier is terminal.
func Lookup(id ID, channel model.Channel) (Definition, error) {
	def, ok := catalog[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", apperrors.ErrUnknownTemplate, id)
	}
	if def.Channel != channel {
		return Definition{}, fmt.Errorf("%w: template %q is for channel %s, not %s",
			apperrors.ErrUnknownTemplate, id, def.Channel, channel)
	}
	return def, nil
}

// KnownIDs returns every identifier in the catalog. Used by validation and
// the load tester.
func KnownIDs() []ID {
	ids := make([]ID, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	return ids
}
