// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/notify"
)

func TestSnapshot_Topics(t *testing.T) {
	bf := newBenchFixture(t, newFake(datatypes.FrameworkOllama))
	ctx := context.Background()
	_, err := bf.orch.ExecuteOne(ctx, request(datatypes.FrameworkOllama))
	require.NoError(t, err)

	snap := NewSnapshotter(bf.orch, bf.coord, bf.engine, nil).Func()

	payload, ok := snap(ctx, notify.TopicExecutions)
	require.True(t, ok)
	recs, _ := payload["executions"].([]*datatypes.ExecutionRecord)
	assert.Len(t, recs, 1)

	payload, ok = snap(ctx, notify.TopicBenchmarks)
	require.True(t, ok)
	assert.Empty(t, payload["active_runs"])

	payload, ok = snap(ctx, notify.TopicMetrics)
	require.True(t, ok)
	dash, _ := payload["dashboard"].(*datatypes.Dashboard)
	require.NotNil(t, dash)
	assert.Len(t, dash.Distribution, 4)

	payload, ok = snap(ctx, notify.TopicSystem)
	require.True(t, ok)
	assert.Equal(t, []datatypes.FrameworkID{datatypes.FrameworkOllama}, payload["frameworks"])

	_, ok = snap(ctx, notify.TopicProgress)
	assert.False(t, ok)
}
