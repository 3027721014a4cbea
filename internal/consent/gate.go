package consent

import (
	"context"

	"go.uber.org/zap"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/storage"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
)

// Gate answers whether a channel may be used for a contact. Consent lives in
// the data store and is owned by webhook ingestion and admin actions; every
// check is a fresh read, never a cache.
type Gate struct {
	contacts storage.ContactRepo
}

// NewGate creates a consent gate backed by the given contact repository.
func NewGate(contacts storage.ContactRepo) *Gate {
	return &Gate{contacts: contacts}
}

// HasConsent reports whether the contact has explicitly granted consent for
// the channel. It fails closed: an unknown channel, a missing contact, or a
// storage error all answer false. Consent is never assumed.
func (g *Gate) HasConsent(ctx context.Context, contactID string, channel model.Channel) bool {
	if !channel.Valid() {
		return false
	}

	contact, err := g.contacts.FindContactByID(ctx, contactID)
	if err != nil {
		logger.FromContext(ctx).Warn("Consent check failed to load contact, denying",
			zap.String("contact_id", contactID),
			zap.String("channel", string(channel)),
			zap.Error(err))
		return false
	}

	return contact.HasConsent(channel)
}

// Check is like HasConsent but also returns the loaded contact so callers
// that need it for rendering avoid a second lookup. The contact is nil
// whenever allowed is false due to a load failure.
func (g *Gate) Check(ctx context.Context, contactID string, channel model.Channel) (allowed bool, contact *model.Contact) {
	if !channel.Valid() {
		return false, nil
	}

	c, err := g.contacts.FindContactByID(ctx, contactID)
	if err != nil {
		logger.FromContext(ctx).Warn("Consent check failed to load contact, denying",
			zap.String("contact_id", contactID),
			zap.String("channel", string(channel)),
			zap.Error(err))
		return false, nil
	}

	return c.HasConsent(channel), c
}
