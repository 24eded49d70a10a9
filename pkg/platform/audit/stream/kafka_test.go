package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKafkaSink_Validation(t *testing.T) {
	_, err := NewKafkaSink(Config{Topic: "medgate.audit"})
	assert.Error(t, err)

	_, err = NewKafkaSink(Config{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

func TestNewKafkaSink_DoesNotDial(t *testing.T) {
	sink, err := NewKafkaSink(Config{Brokers: []string{"127.0.0.1:1"}, Topic: "medgate.audit", ClientID: "medgate-test"})
	require.NoError(t, err)
	defer sink.Close()
	assert.Equal(t, "kafka", sink.Name())
}
