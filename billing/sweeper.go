package billing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"estatehub/database"
	"estatehub/metrics"
)

// SweepExpiredSubscriptions flags ended subscription entries as expired and
// recomputes each user's active flag. Property limits are left as they are.
// The listing and each user's update are bounded by stepTimeout. It returns
// how many users changed.
func (r *Reconciler) SweepExpiredSubscriptions(ctx context.Context, stepTimeout time.Duration) (int, error) {
	listCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	users, err := r.store.ListUsersWithSubscriptions(listCtx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("list subscribers: %w", err)
	}

	changed := 0
	for _, candidate := range users {
		if !candidate.RefreshSubscriptionState(r.now()) {
			continue
		}
		userCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		ok, err := r.expireUser(userCtx, candidate.ID)
		cancel()
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	metrics.ExpiredSubscriptions.Add(float64(changed))
	return changed, nil
}

// expireUser re-applies the refresh under the user's lock so a renewal
// landing mid-sweep is never overwritten.
func (r *Reconciler) expireUser(ctx context.Context, userID string) (bool, error) {
	unlock, err := r.locker.Lock(ctx, userLockKey(userID))
	if err != nil {
		return false, fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer unlock()

	changed := false
	err = r.store.InTx(ctx, func(ctx context.Context, tx database.Store) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if !u.RefreshSubscriptionState(r.now()) {
			return nil
		}
		changed = true
		return tx.SaveEntitlements(ctx, u)
	})
	if err != nil {
		return false, fmt.Errorf("expire subscriptions of %s: %w", userID, err)
	}
	if changed {
		r.logger.Info("subscription state refreshed", zap.String("user_id", userID))
	}
	return changed, nil
}

// RunExpirySweeper sweeps every interval until ctx is done
func (r *Reconciler) RunExpirySweeper(ctx context.Context, interval, stepTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.SweepExpiredSubscriptions(ctx, stepTimeout)
			if err != nil {
				r.logger.Error("subscription sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				r.logger.Info("subscription sweep finished", zap.Int("users_changed", n))
			}
		}
	}
}
