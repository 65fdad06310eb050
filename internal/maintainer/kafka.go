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

package maintainer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tombee/hostedjob/internal/jobmodel"
)

// runStatusEvent is the wire shape published to the run-event bus. Kept
// deliberately flat: consumers outside this module (dashboards, incident
// tooling) should not need jobmodel's internal types to decode it.
type runStatusEvent struct {
	Application string          `json:"application"`
	Tenant      string          `json:"tenant"`
	Instance    string          `json:"instance"`
	JobType     jobmodel.JobType `json:"jobType"`
	RunNumber   int64           `json:"runNumber"`
	Status      jobmodel.RunStatus `json:"status"`
	At          time.Time       `json:"at"`
}

// KafkaPublisher publishes RunStatus transitions to a Kafka topic via
// segmentio/kafka-go, so external systems can react to deployment
// completions/failures without polling the controller. It is an optional
// collaborator: a nil *KafkaPublisher is never constructed by New, the
// maintainer simply runs without one when Collaborators.Publisher is nil.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher writing to topic on the given
// broker addresses. The returned Writer balances across partitions by key
// (the job key), so all transitions for one application+jobType land on
// the same partition and preserve per-job ordering.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// PublishStatus implements StatusPublisher.
func (p *KafkaPublisher) PublishStatus(ctx context.Context, id jobmodel.RunId, status jobmodel.RunStatus) error {
	event := runStatusEvent{
		Application: id.Application.Application,
		Tenant:      id.Application.Tenant,
		Instance:    id.Application.Instance,
		JobType:     id.Type,
		RunNumber:   id.Number,
		Status:      status,
		At:          time.Now(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(id.Of().String()),
		Value: payload,
	})
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ StatusPublisher = (*KafkaPublisher)(nil)
