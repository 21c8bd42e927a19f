package gatekeeper

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// GiftTitleWords is how many words of the answer become the gift title
const GiftTitleWords = 5

// AnswerResult describes what happened after an answer was submitted
type AnswerResult struct {
	Step        int    `json:"step"`
	NextStep    int    `json:"next_step,omitempty"`
	Completed   bool   `json:"completed"`
	GiftCreated bool   `json:"gift_created"`
	GiftError   string `json:"gift_error,omitempty"`
	Route       Route  `json:"route,omitempty"`
}

// GiftTitle returns the first words of an answer
func GiftTitle(answer string) string {
	words := strings.Fields(answer)
	if len(words) > GiftTitleWords {
		words = words[:GiftTitleWords]
	}
	return strings.Join(words, " ")
}

// LoadDrafts returns the autosaved answers of the current user
func (c *Controller) LoadDrafts(ctx context.Context) (Drafts, error) {
	sess, _ := c.store.target()
	if sess == nil {
		return nil, wrapError(ErrSessionRequired, nil, nil)
	}
	return c.drafts.Load(ctx, sess.UserID)
}

// SaveDraft autosaves the answer typed for step
func (c *Controller) SaveDraft(ctx context.Context, step int, text string) error {
	sess, _ := c.store.target()
	if sess == nil {
		return wrapError(ErrSessionRequired, nil, nil)
	}

	if _, ok := Question(step); !ok {
		return wrapError(ErrInvalidStep, nil, map[string]any{"step": step})
	}

	drafts, err := c.drafts.Load(ctx, sess.UserID)
	if err != nil {
		return err
	}
	drafts[step] = text

	return c.drafts.Save(ctx, sess.UserID, drafts)
}

// SubmitAnswer stores the answer of step. On the last step a gift card is
// created from the answer when asked for and onboarding is completed.
func (c *Controller) SubmitAnswer(ctx context.Context, step int, text string, createGift bool) (AnswerResult, error) {
	sess, _ := c.store.target()
	if sess == nil {
		return AnswerResult{}, wrapError(ErrSessionRequired, nil, nil)
	}

	question, ok := Question(step)
	if !ok {
		return AnswerResult{}, wrapError(ErrInvalidStep, nil, map[string]any{"step": step})
	}

	if strings.TrimSpace(text) == "" {
		return AnswerResult{}, wrapError(ErrEmptyAnswer, nil, map[string]any{"step": step})
	}

	createGift = createGift && question.HasCheckbox

	_, err := c.records.UpsertRecord(ctx, TableOnboardingAnswers, Record{
		"user_id":          sess.UserID,
		"question_index":   step,
		"answer_text":      text,
		"create_gift_card": createGift,
	}, "user_id", "question_index")
	if err != nil {
		return AnswerResult{}, wrapError(ErrOnboardingFailed, err, map[string]any{
			"user_id": sess.UserID,
			"step":    step,
		})
	}

	result := AnswerResult{Step: step}

	if createGift {
		if err := c.createGift(ctx, sess.UserID, text); err != nil {
			// the answer is saved, a missing gift card does not block onboarding
			c.logger.Warn("could not create gift card from answer", "user_id", sess.UserID, "error", err)
			result.GiftError = err.Error()
		} else {
			result.GiftCreated = true
		}
	}

	if drafts, err := c.drafts.Load(ctx, sess.UserID); err == nil {
		drafts[step] = text
		if err := c.drafts.Save(ctx, sess.UserID, drafts); err != nil {
			c.logger.Warn("could not save onboarding draft", "error", err)
		}
	}

	if step < QuestionCount() {
		result.NextStep = step + 1
		result.Route = RouteOnboarding
		return result, nil
	}

	route, err := c.CompleteOnboarding(ctx)
	if err != nil {
		return result, err
	}

	result.Completed = true
	result.Route = route
	return result, nil
}

func (c *Controller) createGift(ctx context.Context, userID, answer string) error {
	_, err := c.records.InsertRecord(ctx, TableGifts, Record{
		"id":          uuid.NewString(),
		"creator_id":  userID,
		"title":       GiftTitle(answer),
		"description": answer,
		"visibility":  "global",
		"status":      "active",
		"is_active":   true,
	})
	return err
}

// CompleteOnboarding flags the profile, refreshes it, waits the settle delay
// and clears the drafts. It returns the route the gate now requires.
func (c *Controller) CompleteOnboarding(ctx context.Context) (Route, error) {
	sess, _ := c.store.target()
	if sess == nil {
		return RouteLogin, wrapError(ErrSessionRequired, nil, nil)
	}

	err := c.records.UpdateRecord(ctx, TableProfiles, Filter{"id": sess.UserID}, Record{
		"onboarding_completed": true,
	})
	if err != nil {
		return "", wrapError(ErrOnboardingFailed, err, map[string]any{"user_id": sess.UserID})
	}

	if _, err := c.RefreshProfile(ctx); err != nil {
		return "", err
	}

	if err := c.pause(ctx); err != nil {
		return "", err
	}

	if err := c.drafts.Clear(ctx, sess.UserID); err != nil {
		c.logger.Warn("could not clear onboarding drafts", "error", err)
	}

	c.record(ctx, ActivityEventOnboardingCompleted, sess.UserID, nil)

	c.navigator.Navigate(RouteDashboard)
	return RouteDashboard, nil
}
