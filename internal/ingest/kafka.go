package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/mjolnir42/erebos"
	"github.com/sirupsen/logrus"
	"github.com/wvanbergen/kafka/consumergroup"
	kazoo "github.com/wvanbergen/kazoo-go"

	"github.com/striiike/Efficient-Pattern-Detection/internal/bikecep"
)

// KafkaConfig mirrors the Zookeeper/consumer-group settings the teacher's
// main.go reads out of cyclone.conf, trimmed to what a trip-event consumer
// needs.
type KafkaConfig struct {
	Zookeeper     string
	ConsumerGroup string
	Topics        string
	ZkSyncMS      int
	ResetOffsets  bool
}

// wireEvent is the JSON payload a producer publishes per trip, carried as
// an erebos.Transport's Value.
type wireEvent struct {
	BikeID       string    `json:"bike_id"`
	StartStation int       `json:"start_station"`
	EndStation   int       `json:"end_station"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
}

// KafkaSource consumes trip events from a Kafka topic via a Zookeeper-backed
// consumer group, the same join/consume/commit shape the teacher's main.go
// wires sarama + wvanbergen/kafka/consumergroup + wvanbergen/kazoo-go
// around, generalized from a raw fan-out-to-workers dispatch loop into a
// single bikecep.EventSource.Next() pull interface. Each message is wrapped
// in an erebos.Transport and acknowledged through its Commit channel, the
// same `msg.Commit <- &erebos.Commit{...}` handshake shape as
// internal/cyclone/cyclone__process.go; the ack is sent once the message is
// decoded, before the trip event is returned to the caller.
type KafkaSource struct {
	consumer *consumergroup.ConsumerGroup
	log      *logrus.Entry
}

// NewKafkaSource joins the configured consumer group and returns a source
// ready to be pulled from.
func NewKafkaSource(cfg KafkaConfig, log *logrus.Entry) (*KafkaSource, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	cgConfig := consumergroup.NewConfig()
	cgConfig.Offsets.Initial = sarama.OffsetNewest
	cgConfig.Offsets.ProcessingTimeout = 10 * time.Second
	cgConfig.Offsets.CommitInterval = time.Duration(cfg.ZkSyncMS) * time.Millisecond
	cgConfig.Offsets.ResetOffsets = cfg.ResetOffsets

	zkNodes, chroot := kazoo.ParseConnectionString(cfg.Zookeeper)
	cgConfig.Zookeeper.Chroot = chroot

	topics := strings.Split(cfg.Topics, `,`)
	consumer, err := consumergroup.JoinConsumerGroup(cfg.ConsumerGroup, topics, zkNodes, cgConfig)
	if err != nil {
		return nil, fmt.Errorf("ingest: joining consumer group: %w", err)
	}

	return &KafkaSource{consumer: consumer, log: log}, nil
}

// Next implements bikecep.EventSource. It blocks until a message decodes
// into a valid trip event or the consumer group's message or error channel
// is closed (end of stream). Consumer-group errors and undecodable or
// invalid messages are logged and skipped, not returned.
func (k *KafkaSource) Next() (*bikecep.TripEvent, bool, error) {
	for {
		select {
		case err, open := <-k.consumer.Errors():
			if !open {
				return nil, false, nil
			}
			k.log.Errorf("ingest, kafka consumer error: %s", err)
			continue
		case message, open := <-k.consumer.Messages():
			if !open {
				return nil, false, nil
			}

			transport := &erebos.Transport{
				HostID:    0,
				Topic:     message.Topic,
				Partition: message.Partition,
				Offset:    message.Offset,
				Value:     message.Value,
				Commit:    make(chan *erebos.Commit, 1),
			}
			go k.commit(transport, message)

			var w wireEvent
			if err := json.Unmarshal(transport.Value, &w); err != nil {
				k.log.Errorf("ingest, decoding trip event: %s", err)
				transport.Commit <- &erebos.Commit{Topic: transport.Topic, Partition: transport.Partition, Offset: transport.Offset}
				continue
			}

			e := &bikecep.TripEvent{
				BikeID:       w.BikeID,
				StartStation: w.StartStation,
				EndStation:   w.EndStation,
				StartTime:    w.StartTime,
				EndTime:      w.EndTime,
			}
			transport.Commit <- &erebos.Commit{Topic: transport.Topic, Partition: transport.Partition, Offset: transport.Offset}
			if !e.Valid() {
				k.log.Warnf("ingest, dropping invalid trip event for bike %s", e.BikeID)
				continue
			}
			return e, true, nil
		}
	}
}

// commit waits for the decode-and-handshake side to push an
// *erebos.Commit and relays it to the consumer group as a CommitUpto call,
// the same split Start()/process() responsibility the teacher keeps between
// its Cyclone worker and commit() helper.
func (k *KafkaSource) commit(t *erebos.Transport, msg *sarama.ConsumerMessage) {
	<-t.Commit
	k.consumer.CommitUpto(msg)
}

// Close leaves the consumer group, matching main.go's shutdown handshake.
func (k *KafkaSource) Close() error {
	return k.consumer.Close()
}
