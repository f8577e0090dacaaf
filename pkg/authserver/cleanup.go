// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
)

// PurgeExpired removes expired authorization codes, refresh tokens and
// pending consents. Running it again removes nothing new.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (storage.PurgeResult, error) {
	res, err := s.storage.PurgeExpired(ctx, now)
	if err != nil {
		return storage.PurgeResult{}, fmt.Errorf("failed to purge expired records: %w", err)
	}
	s.metrics.recordPurge(ctx, res)
	if res.Total() > 0 {
		logger.Debugw("purged expired records",
			"authorization_codes", res.AuthorizationCodes,
			"refresh_tokens", res.RefreshTokens,
			"pending_consents", res.PendingConsents,
		)
	}
	return res, nil
}

// RunCleanup calls PurgeExpired every interval until ctx is done. Failures
// are logged and the loop keeps going.
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = storage.DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Infow("starting expired record cleanup", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			logger.Debug("stopping expired record cleanup")
			return
		case <-ticker.C:
			if _, err := s.PurgeExpired(ctx, s.now()); err != nil {
				logger.Warnw("expired record cleanup failed", "error", err)
			}
		}
	}
}
