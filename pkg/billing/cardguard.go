package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rebill/pkg/cycle"
)

// CardVerdict is the result of evaluating a saved card
type CardVerdict string

const (
	CardOK               CardVerdict = "ok"
	CardNeedsReplacement CardVerdict = "needs_replacement"
)

// Evaluate decides whether card can be charged on today.
// A malformed expiry is treated as valid; the parse error is returned for logging.
func Evaluate(card *Card, today time.Time) (CardVerdict, error) {
	if card == nil || card.IsDeleted {
		return CardNeedsReplacement, nil
	}
	expired, err := cycle.IsCardExpired(card.Expiry, today)
	if expired {
		return CardNeedsReplacement, nil
	}
	return CardOK, err
}

// CardGuard makes sure a subscription points at a usable card before charging
type CardGuard struct {
	cards  CardDirectory
	store  Store
	logger *logrus.Logger
}

// NewCardGuard creates a new card guard
func NewCardGuard(cards CardDirectory, store Store, logger *logrus.Logger) *CardGuard {
	return &CardGuard{cards: cards, store: store, logger: logger}
}

// Check finds the card that would be charged for sub without changing anything.
// replaced is true when the subscription's own card is unusable and a replacement
// was found. ErrNoValidCard is returned when neither exists.
func (g *CardGuard) Check(ctx context.Context, rc RunContext, sub *Subscription) (card *Card, replaced bool, err error) {
	current, err := g.cards.GetCard(ctx, sub.CardID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("failed to load card %d: %w", sub.CardID, err)
	}

	verdict, expiryErr := Evaluate(current, rc.Today)
	if expiryErr != nil {
		g.logger.WithFields(logrus.Fields{
			"subscription_id": sub.ID,
			"card_id":         sub.CardID,
		}).Warnf("Unreadable card expiry, charging anyway: %v", expiryErr)
	}
	if verdict == CardOK {
		return current, false, nil
	}

	replacement, err := g.cards.FindReplacementCard(ctx, sub.CustomerID, rc.Today)
	if errors.Is(err, ErrNotFound) || (err == nil && replacement == nil) {
		return nil, false, ErrNoValidCard
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to find replacement card for customer %d: %w", sub.CustomerID, err)
	}
	return replacement, true, nil
}

// Ensure returns the subscription and the card to charge. When the stored card is
// unusable and a replacement exists, the reference is swapped and the subscription
// is re-read.
func (g *CardGuard) Ensure(ctx context.Context, rc RunContext, sub *Subscription) (*Subscription, *Card, error) {
	card, replaced, err := g.Check(ctx, rc, sub)
	if err != nil {
		return sub, nil, err
	}
	if !replaced {
		return sub, card, nil
	}

	if err := g.store.ReplaceCard(ctx, sub.ID, card.ID); err != nil {
		return sub, nil, err
	}
	if inv, ok := g.cards.(CardInvalidator); ok {
		inv.Invalidate(sub.CardID)
	}
	g.logger.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"old_card_id":     sub.CardID,
		"new_card_id":     card.ID,
	}).Info("Replaced unusable card on subscription")

	reread, err := g.store.GetSubscription(ctx, sub.ID)
	if err != nil {
		return sub, nil, err
	}
	return reread, card, nil
}
