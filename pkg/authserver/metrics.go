// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
)

const instrumentationName = "github.com/sentinovo/carbuildervin-auth/pkg/authserver"

var (
	attrClientID  = attribute.Key("oauth.client_id")
	attrGrantType = attribute.Key("oauth.grant_type")
	attrRecord    = attribute.Key("oauth.record")
)

type serviceMetrics struct {
	codesIssued       metric.Int64Counter
	tokensIssued      metric.Int64Counter
	refreshRotations  metric.Int64Counter
	codeReuse         metric.Int64Counter
	purgedRecords     metric.Int64Counter
	clientsRegistered metric.Int64Counter
}

func newServiceMetrics(meterProvider metric.MeterProvider) (*serviceMetrics, error) {
	meter := meterProvider.Meter(instrumentationName)

	codesIssued, err := meter.Int64Counter(
		"authserver_authorization_codes_issued",
		metric.WithDescription("Total number of authorization codes issued"))
	if err != nil {
		return nil, fmt.Errorf("failed to create codes issued counter: %w", err)
	}
	tokensIssued, err := meter.Int64Counter(
		"authserver_tokens_issued",
		metric.WithDescription("Total number of access tokens issued per grant type"))
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens issued counter: %w", err)
	}
	refreshRotations, err := meter.Int64Counter(
		"authserver_refresh_rotations",
		metric.WithDescription("Total number of refresh token rotations"))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh rotations counter: %w", err)
	}
	codeReuse, err := meter.Int64Counter(
		"authserver_code_reuse_detected",
		metric.WithDescription("Total number of authorization code replays detected"))
	if err != nil {
		return nil, fmt.Errorf("failed to create code reuse counter: %w", err)
	}
	purgedRecords, err := meter.Int64Counter(
		"authserver_purged_records",
		metric.WithDescription("Total number of expired records removed by cleanup"))
	if err != nil {
		return nil, fmt.Errorf("failed to create purged records counter: %w", err)
	}
	clientsRegistered, err := meter.Int64Counter(
		"authserver_clients_registered",
		metric.WithDescription("Total number of clients registered"))
	if err != nil {
		return nil, fmt.Errorf("failed to create clients registered counter: %w", err)
	}

	return &serviceMetrics{
		codesIssued:       codesIssued,
		tokensIssued:      tokensIssued,
		refreshRotations:  refreshRotations,
		codeReuse:         codeReuse,
		purgedRecords:     purgedRecords,
		clientsRegistered: clientsRegistered,
	}, nil
}

func (m *serviceMetrics) recordTokenIssued(ctx context.Context, clientID, grantType string) {
	m.tokensIssued.Add(ctx, 1, metric.WithAttributes(attrClientID.String(clientID), attrGrantType.String(grantType)))
}

func (m *serviceMetrics) recordPurge(ctx context.Context, res storage.PurgeResult) {
	add := func(record string, n int) {
		if n > 0 {
			m.purgedRecords.Add(ctx, int64(n), metric.WithAttributes(attrRecord.String(record)))
		}
	}
	add("authorization_code", res.AuthorizationCodes)
	add("refresh_token", res.RefreshTokens)
	add("pending_consent", res.PendingConsents)
}
