package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inkwell/app/mailer"
	"inkwell/app/models"
	"inkwell/app/repositories"
	"inkwell/app/tokens"
)

// Outcome is the result of presenting a verification link.
type Outcome string

const (
	OutcomeVerified        Outcome = "verified"
	OutcomeAlreadyVerified Outcome = "already_verified"
	// OutcomeRefreshIssued means the fresh link had expired and a refresh
	// link was mailed instead. Nothing about the account changed.
	OutcomeRefreshIssued Outcome = "refresh_issued"
	// OutcomeRefreshExpired is terminal: the owner has to resend by hand.
	OutcomeRefreshExpired Outcome = "refresh_expired"
)

// VerificationResult reports what happened to the subscriber behind a token.
type VerificationResult struct {
	Outcome    Outcome
	Subscriber *models.Identity
}

// VerificationService validates emailed tokens against the subscriber state
type VerificationService struct {
	deps *Dependencies
}

func NewVerificationService(deps *Dependencies) *VerificationService {
	return &VerificationService{deps: deps}
}

// Verify applies a verification token. An already verified subscriber is
// reported as such for any valid token, before intent or expiry is looked
// at, and nothing is written. Reset tokens never verify an account.
func (s *VerificationService) Verify(ctx context.Context, raw string) (*VerificationResult, error) {
	res, err := s.verify(ctx, raw)
	switch {
	case err == nil:
		s.deps.Metrics.Verification(string(res.Outcome))
	case errors.Is(err, ErrInvalidToken):
		s.deps.Metrics.Verification("invalid")
	}
	return res, err
}

func (s *VerificationService) verify(ctx context.Context, raw string) (*VerificationResult, error) {
	claims, err := s.deps.Tokens.Parse(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}

	now := s.deps.now()
	var result *VerificationResult
	err = s.deps.Store.Update(ctx, func(tx repositories.Tx) error {
		sub, err := tx.Identities().GetByEmail(claims.Email)
		if errors.Is(err, repositories.ErrNotFound) || (err == nil && !sub.IsSubscriber()) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}

		switch {
		case sub.Verified:
			result = &VerificationResult{Outcome: OutcomeAlreadyVerified, Subscriber: sub}
		case claims.Intent == tokens.IntentReset:
			return ErrInvalidToken
		case !claims.Expired(now):
			sub.Verified = true
			if err := tx.Identities().Update(sub); err != nil {
				return err
			}
			result = &VerificationResult{Outcome: OutcomeVerified, Subscriber: sub}
		case claims.Intent == tokens.IntentFresh:
			result = &VerificationResult{Outcome: OutcomeRefreshIssued, Subscriber: sub}
		default:
			result = &VerificationResult{Outcome: OutcomeRefreshExpired, Subscriber: sub}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome == OutcomeRefreshIssued {
		if err := s.send(ctx, result.Subscriber, refreshMail); err != nil {
			return nil, err
		}
		s.deps.logger().InfoContext(ctx, "refresh verification link issued", "subscriber", result.Subscriber.ID)
	}
	return result, nil
}

type verificationMail struct {
	intent   tokens.Intent
	subject  string
	template string
}

var (
	freshMail = verificationMail{
		intent:   tokens.IntentFresh,
		subject:  "Confirm your subscription",
		template: mailer.TemplateVerify,
	}
	refreshMail = verificationMail{
		intent:   tokens.IntentRefresh,
		subject:  "Confirm your subscription [refreshed link]",
		template: mailer.TemplateVerifyRefreshed,
	}
	// manualMail is a fresh link sent by the owner on request.
	manualMail = verificationMail{
		intent:   tokens.IntentFresh,
		subject:  "Confirm your subscription",
		template: mailer.TemplateVerifyRefreshed,
	}
)

// SendFresh mails a new subscriber their first verification link.
func (s *VerificationService) SendFresh(ctx context.Context, sub *models.Identity) error {
	return s.send(ctx, sub, freshMail)
}

// send issues a token and mails it synchronously so the caller sees failures.
func (s *VerificationService) send(ctx context.Context, sub *models.Identity, m verificationMail) error {
	ttl := s.deps.TTLs.Fresh
	if m.intent == tokens.IntentRefresh {
		ttl = s.deps.TTLs.Refresh
	}

	raw, err := s.deps.Tokens.Issue(sub.Email(), m.intent, ttl)
	if err != nil {
		return err
	}
	err = s.deps.Mail.Send(ctx, mailer.Message{
		Subject:  m.subject,
		To:       []string{sub.Email()},
		Template: m.template,
		Data: map[string]any{
			"Username": sub.Username,
			"Link":     s.deps.link("/api/verify/" + raw),
			"ValidFor": humanDuration(ttl),
		},
	})
	if err != nil {
		s.deps.logger().ErrorContext(ctx, "verification mail failed", "subscriber", sub.ID, "error", err)
		return fmt.Errorf("%w: %v", ErrMailDelivery, err)
	}
	return nil
}

// humanDuration renders whole minutes, hours or days.
func humanDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(int(d/time.Minute), "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
