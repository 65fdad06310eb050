// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/hostedjob/internal/jobmodel"
	"github.com/tombee/hostedjob/internal/store"
	"github.com/tombee/hostedjob/internal/store/memory"
)

func key() jobmodel.JobKey {
	return jobmodel.JobKey{
		Application: jobmodel.ApplicationId{Tenant: "t", Application: "a", Instance: "default"},
		Type:        jobmodel.JobSystemTest,
	}
}

func TestReadLastRunNotFound(t *testing.T) {
	b := memory.New()
	_, err := b.ReadLastRun(context.Background(), key())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWriteThenReadLastRun(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	r := jobmodel.NewRun(jobmodel.RunId{Application: key().Application, Type: key().Type, Number: 1}, jobmodel.Versions{}, time.Now())

	require.NoError(t, b.WriteLastRun(ctx, key(), r))
	got, err := b.ReadLastRun(ctx, key())
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestNextRunNumberIsMonotonic(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	var last int64
	for i := 0; i < 5; i++ {
		n, err := b.NextRunNumber(ctx, key())
		require.NoError(t, err)
		assert.Greater(t, n, last)
		last = n
	}
}

func TestLockExcludesConcurrentHolder(t *testing.T) {
	b := memory.New()
	ctx := context.Background()

	lease, err := b.Lock(ctx, "app-job", time.Second)
	require.NoError(t, err)

	_, err = b.Lock(ctx, "app-job", 20*time.Millisecond)
	assert.ErrorIs(t, err, store.ErrLockTimeout)

	require.NoError(t, lease.Release(ctx))

	lease2, err := b.Lock(ctx, "app-job", time.Second)
	require.NoError(t, err)
	require.NoError(t, lease2.Release(ctx))
}

func TestDeleteRunDataRemovesAllJobTypesForApp(t *testing.T) {
	b := memory.New()
	ctx := context.Background()
	k1 := key()
	k2 := jobmodel.JobKey{Application: k1.Application, Type: jobmodel.JobStagingTest}

	require.NoError(t, b.WriteLastRun(ctx, k1, jobmodel.NewRun(jobmodel.RunId{Application: k1.Application, Type: k1.Type, Number: 1}, jobmodel.Versions{}, time.Now())))
	require.NoError(t, b.WriteLastRun(ctx, k2, jobmodel.NewRun(jobmodel.RunId{Application: k2.Application, Type: k2.Type, Number: 1}, jobmodel.Versions{}, time.Now())))

	require.NoError(t, b.DeleteRunData(ctx, k1.Application, nil))

	_, err := b.ReadLastRun(ctx, k1)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = b.ReadLastRun(ctx, k2)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
