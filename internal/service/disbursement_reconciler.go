package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	"github.com/noah-isme/bimbel-adp-api/pkg/database"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
	"github.com/noah-isme/bimbel-adp-api/pkg/gatewayclient"
)

// disbursementCallbackPayload is the raw webhook body for transfer events.
type disbursementCallbackPayload struct {
	EventID        string `json:"event_id"`
	Event          string `json:"event"`
	DisbursementID string `json:"disbursement_id"`
	ExternalID     string `json:"external_id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	FailureCode    string `json:"failure_code"`
}

// DisbursementReconcilerConfig tunes webhook processing.
type DisbursementReconcilerConfig struct {
	CallbackSecret string
	DedupTTL       time.Duration
}

// DisbursementReconciler applies disbursement webhooks to local transfer
// state and keeps the denormalized batch status in step, inside the same
// transaction as the member change.
type DisbursementReconciler struct {
	db       *sqlx.DB
	repo     disbursementRepository
	payrolls disbursementPayrollStore
	dedup    eventDeduper
	audit    paymentAuditLogger
	logger   *zap.Logger
	cfg      DisbursementReconcilerConfig
}

// NewDisbursementReconciler constructs a DisbursementReconciler.
func NewDisbursementReconciler(db *sqlx.DB, repo disbursementRepository, payrolls disbursementPayrollStore, dedup eventDeduper, audit paymentAuditLogger, logger *zap.Logger, cfg DisbursementReconcilerConfig) *DisbursementReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 48 * time.Hour
	}
	return &DisbursementReconciler{
		db:       db,
		repo:     repo,
		payrolls: payrolls,
		dedup:    dedup,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
	}
}

// Process verifies, normalizes and applies one disbursement webhook.
func (r *DisbursementReconciler) Process(ctx context.Context, rawBody []byte, signature string) error {
	if !gatewayclient.VerifySignature(r.cfg.CallbackSecret, rawBody, signature) {
		return appErrors.Clone(appErrors.ErrInvalidSignature, "")
	}

	var payload disbursementCallbackPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed callback payload")
	}
	if payload.EventID == "" || payload.Event == "" || payload.ExternalID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "callback missing event_id, event or external_id")
	}

	event := &models.DisbursementEvent{
		EventID:               payload.EventID,
		Type:                  models.DisbursementEventType(payload.Event),
		GatewayDisbursementID: payload.DisbursementID,
		ExternalReference:     payload.ExternalID,
		Amount:                payload.Amount,
		Raw:                   rawBody,
	}
	if payload.FailureCode != "" {
		event.FailureCode = &payload.FailureCode
	}

	target, known := event.Type.DisbursementStatus()
	if !known {
		r.logger.Info("ignoring unknown disbursement event type",
			zap.String("event_id", event.EventID),
			zap.String("event", string(event.Type)))
		return nil
	}

	if r.dedup != nil {
		seen, err := r.dedup.MarkEventSeen(ctx, event.EventID, r.cfg.DedupTTL)
		if err != nil {
			r.logger.Warn("event dedup cache unavailable", zap.Error(err))
		} else if seen {
			return nil
		}
	}

	seen, err := r.repo.CallbackSeen(ctx, event.EventID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check callback ledger")
	}
	if seen {
		// One ledger row per event id; the replayed payload goes to the
		// log stream.
		r.logger.Info("duplicate disbursement event ignored",
			zap.String("event_id", event.EventID),
			zap.ByteString("payload", event.Raw))
		return nil
	}

	mirror, err := r.repo.FindMirrorByExternalReference(ctx, event.ExternalReference)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrUnknownReference, "no disbursement for reference "+event.ExternalReference)
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve disbursement mirror")
	}

	return r.apply(ctx, mirror, event, target)
}

func (r *DisbursementReconciler) apply(ctx context.Context, mirror *models.GatewayDisbursementMirror, event *models.DisbursementEvent, target models.DisbursementStatus) error {
	callback := &models.GatewayDisbursementCallback{
		MirrorID:    mirror.ID,
		EventID:     event.EventID,
		EventType:   string(event.Type),
		Status:      string(target),
		Amount:      event.Amount,
		FailureCode: event.FailureCode,
		RawPayload:  event.Raw,
	}

	var stale bool
	err := database.WithinTx(ctx, r.db, func(tx *sqlx.Tx) error {
		disbursement, err := r.repo.LockByID(ctx, tx, mirror.DisbursementID)
		if err != nil {
			return err
		}

		if !disbursement.Status.CanAdvanceTo(target) {
			stale = true
			return r.repo.InsertCallbackTx(ctx, tx, callback)
		}

		var completedAt *time.Time
		if target == models.DisbursementStatusCompleted {
			now := time.Now().UTC()
			completedAt = &now
		}
		if err := r.repo.UpdateStatusTx(ctx, tx, disbursement.ID, target, event.FailureCode, completedAt); err != nil {
			return err
		}
		if err := r.repo.UpdateMirrorStatusTx(ctx, tx, mirror.ID, string(target)); err != nil {
			return err
		}
		if err := r.repo.InsertCallbackTx(ctx, tx, callback); err != nil {
			return err
		}

		switch target {
		case models.DisbursementStatusCompleted:
			if err := r.payrolls.UpdateStatusTx(ctx, tx, disbursement.PayrollID, models.PayrollStatusDone); err != nil {
				return err
			}
		case models.DisbursementStatusFailed:
			if err := r.payrolls.UpdateStatusTx(ctx, tx, disbursement.PayrollID, models.PayrollStatusFailed); err != nil {
				return err
			}
		}

		if disbursement.BatchID != nil {
			members, err := r.repo.ListByBatchTx(ctx, tx, *disbursement.BatchID)
			if err != nil {
				return err
			}
			return r.repo.UpdateBatchStatusTx(ctx, tx, *disbursement.BatchID, DeriveBatchStatus(members))
		}
		return nil
	})
	if err != nil {
		return appErrors.FromError(err)
	}

	if stale {
		r.logger.Info("stale disbursement event recorded without transition",
			zap.String("event_id", event.EventID),
			zap.String("disbursement_id", mirror.DisbursementID),
			zap.String("target", string(target)))
		return nil
	}

	r.logAudit(ctx, mirror.DisbursementID)
	r.logger.Info("disbursement event applied",
		zap.String("event_id", event.EventID),
		zap.String("disbursement_id", mirror.DisbursementID),
		zap.String("status", string(target)))
	return nil
}

func (r *DisbursementReconciler) logAudit(ctx context.Context, disbursementID string) {
	if r.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     models.AuditActionDisbursementRecheck,
		Resource:   "disbursement",
		ResourceID: &disbursementID,
	}
	if err := r.audit.CreateAuditLog(ctx, entry); err != nil {
		r.logger.Warn("failed to write disbursement audit log", zap.Error(err))
	}
}
