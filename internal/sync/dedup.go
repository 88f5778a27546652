package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"homehealth-sync-service/internal/identity"
	"homehealth-sync-service/internal/logger"
	"homehealth-sync-service/internal/model"
	"homehealth-sync-service/internal/store"
)

// DedupPatients runs the batch merge pass over every local patient and
// returns how many records were folded away.
func (r *Reconciler) DedupPatients(ctx context.Context) (int, error) {
	patients, err := r.store.ListPatients(ctx)
	if err != nil {
		return 0, err
	}
	groups := identity.Plan(patients, r.now())

	merged := 0
	for _, g := range groups {
		if err := r.applyMergeGroup(ctx, g); err != nil {
			return merged, fmt.Errorf("merge into %s: %w", g.Canonical.ID, err)
		}
		merged += len(g.LoserIDs)
		logger.Log.Info("Merged duplicate patients",
			zap.String("patient_id", g.Canonical.ID),
			zap.Strings("merged_ids", g.LoserIDs))
	}
	return merged, nil
}

// applyMergeGroup stores the canonical record, deletes the losers and moves
// their appointments over, all in one transaction. Every change is queued
// so the remote systems converge on the next drain.
func (r *Reconciler) applyMergeGroup(ctx context.Context, g identity.MergeGroup) error {
	return r.store.WithTx(ctx, func(tx store.Store) error {
		now := r.now()
		canonical := g.Canonical.Clone()
		canonical.SyncStatus = model.SyncStatusPending
		canonical.UpdatedAt = now
		if err := tx.PutPatient(ctx, canonical); err != nil {
			return err
		}

		for _, loserID := range g.LoserIDs {
			appts, err := tx.ListAppointments(ctx, store.AppointmentFilter{PatientID: loserID})
			if err != nil {
				return err
			}
			for _, a := range appts {
				a.PatientID = canonical.ID
				a.SyncStatus = model.SyncStatusPending
				a.UpdatedAt = now
				if err := tx.PutAppointment(ctx, a); err != nil {
					return err
				}
				if _, err := r.queue.enqueueWith(ctx, tx, model.ActionUpdate, model.EntityAppointment,
					model.Payload{model.PayloadEntityID: a.ID}); err != nil {
					return err
				}
			}

			if err := tx.DeletePatient(ctx, loserID); err != nil {
				return err
			}
			if _, err := r.queue.enqueueWith(ctx, tx, model.ActionDelete, model.EntityPatient,
				model.Payload{model.PayloadEntityID: loserID}); err != nil {
				return err
			}
		}

		_, err := r.queue.enqueueWith(ctx, tx, model.ActionUpdate, model.EntityPatient,
			model.Payload{model.PayloadEntityID: canonical.ID})
		return err
	})
}
