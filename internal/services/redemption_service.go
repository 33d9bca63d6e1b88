// Package services – RedemptionService
//
// This file implements RedemptionService, the only write path of the
// system. A redemption validates an access code and, only if it is still
// usable, increments its usage counter and stores the submission. Both
// effects commit together or not at all.
//
// Concurrency: the code row is locked for the transaction on databases that
// support row locks, and the increment itself is a guarded UPDATE that only
// matches while the code is active, unexpired and under its limit. A losing
// racer therefore sees zero affected rows and is told QuotaExceeded, even on
// SQLite where the row lock is unavailable.
//
// Observability: Redeem is OpenTelemetry-instrumented and counts outcomes in
// the way_redemptions_total metric.
package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/ibelehai/way-whereareyou/internal/domain"
	"github.com/ibelehai/way-whereareyou/internal/observability"
	"github.com/ibelehai/way-whereareyou/internal/repo"
)

// RedeemOptions carries optional request metadata.
type RedeemOptions struct {
	// IdempotencyKey makes a retried redemption return the original result.
	IdempotencyKey string
}

// RedeemResult is a successful redemption.
type RedeemResult struct {
	SubmissionID string
	// Replayed is true when the result was recorded by an earlier request
	// with the same idempotency key; nothing was written this time.
	Replayed bool
}

// RedemptionService redeems access codes into submissions.
type RedemptionService struct {
	DB *gorm.DB

	// Media, when set, restricts media URLs to ones it owns.
	Media MediaOwner

	// Timeout bounds the whole transaction (default 5s).
	Timeout time.Duration

	// IdempotencyTTL is how long a key is remembered (default 24h).
	IdempotencyTTL time.Duration

	// Now is the clock (default time.Now).
	Now func() time.Time
}

func (s *RedemptionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *RedemptionService) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 5 * time.Second
}

func (s *RedemptionService) idemTTL() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return 24 * time.Hour
}

// checkRedeemable applies the active / expiry / quota checks in order.
func checkRedeemable(c *domain.AccessCode, now time.Time) error {
	if !c.IsActive {
		return ErrCodeDisabled
	}
	if c.Expired(now) {
		return ErrCodeExpired
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return ErrQuotaExceeded
	}
	return nil
}

// Redeem validates code for the tenant named by slug and, on success,
// stores one submission built from p.
//
// Checks run in this order, first failure wins: tenant, code exists, active,
// unexpired, under quota, payload. All of them run inside the transaction
// that performs the increment and the insert.
//
// The transaction is detached from ctx cancellation so a client hanging up
// mid-commit cannot leave a half-applied redemption; it is still bounded by
// Timeout, and a timeout is reported as ErrTransient.
func (s *RedemptionService) Redeem(ctx context.Context, slug, code string, p EntryPayload, opts RedeemOptions) (*RedeemResult, error) {
	slug = NormalizeSlug(slug)
	code = NormalizeCode(code)

	tr := observability.Tracer("redemption")
	ctx, span := tr.Start(ctx, "Redeem",
		trace.WithAttributes(
			observability.TenantAttr(slug),
			attribute.Bool("idempotent", opts.IdempotencyKey != ""),
		),
	)
	defer span.End()

	res, err := s.redeem(ctx, slug, code, p, opts)

	observability.Redemptions.WithLabelValues(replayedOr(res, outcome(err))).Inc()
	if err != nil {
		span.SetStatus(codes.Error, outcome(err))
		zerolog.Ctx(ctx).Debug().Err(err).Str("tenant", slug).Msg("redemption rejected")
		return nil, err
	}
	span.SetAttributes(attribute.String("submission.id", res.SubmissionID))
	return res, nil
}

func replayedOr(res *RedeemResult, o string) string {
	if res != nil && res.Replayed {
		return "replayed"
	}
	return o
}

func (s *RedemptionService) redeem(ctx context.Context, slug, code string, p EntryPayload, opts RedeemOptions) (*RedeemResult, error) {
	// Pure validation happens up front; its verdict is reported in order.
	sub, payloadErr := buildSubmission(p, s.Media)

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout())
	defer cancel()

	now := s.now().UTC()
	var res RedeemResult

	err := s.DB.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		tenant, err := repo.GetTenantBySlug(txCtx, tx, slug)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrTenantNotFound
		}
		if err != nil {
			return err
		}

		scope := repo.IdemScope{TenantID: tenant.ID, AccessCode: code, Key: opts.IdempotencyKey}
		if opts.IdempotencyKey != "" {
			rec, err := repo.GetIdempotency(txCtx, tx, scope, now)
			if err == nil {
				res = RedeemResult{SubmissionID: rec.SubmissionID, Replayed: true}
				return nil
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
		}

		if code == "" {
			return ErrInvalidCode
		}
		ac, err := repo.GetAccessCodeForUpdate(txCtx, tx, tenant.ID, code)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidCode
		}
		if err != nil {
			return err
		}
		if err := checkRedeemable(ac, now); err != nil {
			return err
		}
		if payloadErr != nil {
			return payloadErr
		}

		ok, err := repo.IncrementUsage(txCtx, tx, ac.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			// Another redemption changed the row first; report its current state.
			cur, err := repo.GetAccessCode(txCtx, tx, tenant.ID, code)
			if err != nil {
				return err
			}
			if err := checkRedeemable(cur, now); err != nil {
				return err
			}
			return ErrQuotaExceeded
		}

		sub.ID = uuid.NewString()
		sub.TenantID = tenant.ID
		sub.AccessCode = code
		sub.CreatedAt = now
		if err := repo.CreateSubmission(txCtx, tx, sub); err != nil {
			return err
		}

		if opts.IdempotencyKey != "" {
			if err := repo.ReleaseExpiredIdempotency(txCtx, tx, scope, now); err != nil {
				return err
			}
			_, err := repo.CreateIdempotency(txCtx, tx, scope, sub.ID, http.StatusCreated, now, s.idemTTL())
			if errors.Is(err, repo.ErrDuplicate) {
				// A concurrent request with the same key committed first.
				return ErrTransient
			}
			if err != nil {
				return err
			}
		}

		res = RedeemResult{SubmissionID: sub.ID}
		return nil
	})
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	return &res, nil
}
