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

package externals

import (
	"context"

	"golang.org/x/time/rate"
)

// pollLimiter rate-limits one collaborator's polling calls (convergence
// checks, tester-status polls) across the whole worker pool, so a
// saturated pool of 32 step workers cannot turn into a thundering herd
// against the config server or tester cloud.
type pollLimiter struct {
	limiter *rate.Limiter
}

// newPollLimiter builds a limiter allowing ratePerSecond sustained
// requests with a matching burst.
func newPollLimiter(ratePerSecond float64) *pollLimiter {
	return &pollLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1)}
}

func (p *pollLimiter) wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
