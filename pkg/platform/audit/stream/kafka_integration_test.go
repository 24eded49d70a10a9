//go:build integration

package stream_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "medgate/pkg/platform/audit"
	"medgate/pkg/platform/audit/stream"
	"medgate/pkg/testutil/containers"
)

type KafkaSinkSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
}

func TestKafkaSinkSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSinkSuite))
}

func (s *KafkaSinkSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
}

func (s *KafkaSinkSuite) TestWriteIsConsumable() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topic := "medgate.audit." + uuid.NewString()[:8]

	sink, err := stream.NewKafkaSink(stream.Config{Brokers: s.redpanda.Brokers, Topic: topic})
	s.Require().NoError(err)
	defer sink.Close()
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1))
	s.Require().NoError(sink.EnsureTopic(ctx, 1, 1), "existing topic is not an error")

	entry := audit.Entry{ID: uuid.NewString(), Action: "REPORTS_ACCESSED", Resource: "reports", RiskLevel: audit.RiskHigh}
	s.Require().NoError(sink.Write(ctx, entry))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().Empty(fetches.Errors())
	records := fetches.Records()
	s.Require().Len(records, 1)
	s.Equal(entry.ID, string(records[0].Key))

	var got audit.Entry
	s.Require().NoError(json.Unmarshal(records[0].Value, &got))
	s.Equal(entry.Action, got.Action)
	s.Equal(audit.RiskHigh, got.RiskLevel)
}
