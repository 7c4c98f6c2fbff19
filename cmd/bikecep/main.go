/*-
 * Copyright © 2016, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Command bikecep runs the bike hot-path pattern pipeline against either a
// CSV export or a live Kafka topic, the cobra-driven front door the teacher's
// own main.go lacked (it read a single flat cyclone.conf and wired a fixed
// Kafka consumer loop with no alternate input).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/striiike/Efficient-Pattern-Detection/internal/bikecep"
	"github.com/striiike/Efficient-Pattern-Detection/internal/ingest"
	"github.com/striiike/Efficient-Pattern-Detection/internal/reporting"
	"github.com/striiike/Efficient-Pattern-Detection/internal/targets"
)

var (
	flagConfigPath    string
	flagCSVPath       string
	flagKafkaTopics   string
	flagWebhookURI    string
	flagProjectionOut string
	flagLatencyOut    string
	flagCounterOut    string
)

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())

	root := &cobra.Command{
		Use:   "bikecep",
		Short: "Streaming bike hot-path pattern matcher with latency-aware load shedding",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(log)
		},
	}
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "bikecep.yaml", "path to the YAML config file")
	root.PersistentFlags().StringVar(&flagCSVPath, "csv", "", "path to a Citi-Bike-style CSV file to replay")
	root.PersistentFlags().StringVar(&flagKafkaTopics, "kafka", "", "comma-separated Kafka topics to consume (overrides --csv)")
	root.PersistentFlags().StringVar(&flagWebhookURI, "webhook", "", "HTTP endpoint to forward completed matches to")
	root.PersistentFlags().StringVar(&flagProjectionOut, "projection-csv", "", "path to write the emitted projection multiset to")
	root.PersistentFlags().StringVar(&flagLatencyOut, "latency-csv", "", "path to write per-match detection latencies to")
	root.PersistentFlags().StringVar(&flagCounterOut, "counter-csv", "", "path to write the final counter snapshot to")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(log *logrus.Entry) error {
	fc, err := loadFileConfig(flagConfigPath)
	if err != nil {
		return err
	}
	cfg := fc.toCoreConfig()

	targetCache := buildTargetCache(fc)
	if targetCache != nil {
		defer targetCache.Close()
		if cached, ok, err := targetCache.Load(context.Background()); err != nil {
			log.Warnf("bikecep, target cache load failed, using configured targets: %s", err)
		} else if ok {
			cfg.Targets = cached
		} else if err := targetCache.Store(context.Background(), cfg.Targets); err != nil {
			log.Warnf("bikecep, target cache seed failed: %s", err)
		}
	}

	source, closeSource, err := buildSource(fc, log)
	if err != nil {
		return err
	}
	defer closeSource()

	sink, closeSink := buildSink(fc, log)
	defer closeSink()

	pipeline, err := bikecep.NewPipeline(cfg, source, sink, bikecep.WithLogger(log))
	if err != nil {
		return fmt.Errorf("bikecep: constructing pipeline: %w", err)
	}

	var watcher interface{ Close() error }
	if w, err := watchConfig(flagConfigPath, pipeline, targetCache, log); err != nil {
		log.Warnf("bikecep, config hot-reload disabled: %s", err)
	} else {
		watcher = w
		defer watcher.Close()
	}

	cancel := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		log.Info("bikecep, interrupt received, draining")
		close(cancel)
	}()

	start := time.Now()
	if err := pipeline.Run(cancel); err != nil {
		return fmt.Errorf("bikecep: pipeline run: %w", err)
	}
	log.Infof("bikecep, processed %d events in %s", pipeline.Counters().EventsIngested(), time.Since(start))

	return writeReports(pipeline)
}

// buildTargetCache returns a Redis-backed target-station cache when the
// config names a Redis address, or nil when the advisory cache is unused.
func buildTargetCache(fc *fileConfig) *targets.Cache {
	if fc == nil || fc.Redis.Addr == "" {
		return nil
	}
	return targets.NewCache(fc.Redis.Addr, fc.Redis.Password, fc.Redis.DB)
}

func buildSource(fc *fileConfig, log *logrus.Entry) (bikecep.EventSource, func(), error) {
	noop := func() {}

	if flagKafkaTopics != "" {
		kc := ingest.KafkaConfig{Topics: flagKafkaTopics}
		if fc != nil {
			kc.Zookeeper = fc.Kafka.Zookeeper
			kc.ConsumerGroup = fc.Kafka.ConsumerGroup
			kc.ZkSyncMS = fc.Kafka.ZkSyncMS
			kc.ResetOffsets = fc.Kafka.ResetOffsets
		}
		src, err := ingest.NewKafkaSource(kc, log)
		if err != nil {
			return nil, noop, err
		}
		return src, func() { src.Close() }, nil
	}

	if flagCSVPath == "" {
		return nil, noop, fmt.Errorf("bikecep: one of --csv or --kafka is required")
	}
	f, err := os.Open(flagCSVPath)
	if err != nil {
		return nil, noop, fmt.Errorf("bikecep: opening %s: %w", flagCSVPath, err)
	}
	src, err := ingest.NewCSVSource(f, log)
	if err != nil {
		f.Close()
		return nil, noop, err
	}
	return src, func() { f.Close() }, nil
}

func buildSink(fc *fileConfig, log *logrus.Entry) (bikecep.MatchSink, func()) {
	if flagWebhookURI == "" && (fc == nil || fc.Webhook.DestinationURI == "") {
		return bikecep.MatchSinkFunc(func(bikecep.CompletedMatch) error { return nil }), func() {}
	}

	wc := reporting.WebhookConfig{
		DestinationURI: flagWebhookURI,
		RetryCount:     3,
		RetryMinWaitMS: 100,
		RetryMaxWaitMS: 2000,
	}
	if fc != nil {
		if wc.DestinationURI == "" {
			wc.DestinationURI = fc.Webhook.DestinationURI
		}
		if fc.Webhook.RetryCount > 0 {
			wc.RetryCount = fc.Webhook.RetryCount
		}
		if fc.Webhook.RetryMinWaitMS > 0 {
			wc.RetryMinWaitMS = fc.Webhook.RetryMinWaitMS
		}
		if fc.Webhook.RetryMaxWaitMS > 0 {
			wc.RetryMaxWaitMS = fc.Webhook.RetryMaxWaitMS
		}
	}
	sink := reporting.NewWebhookSink(wc, log)
	return sink, sink.Drain
}

func writeReports(pipeline *bikecep.Pipeline) error {
	if flagProjectionOut != "" {
		f, err := os.Create(flagProjectionOut)
		if err != nil {
			return fmt.Errorf("bikecep: creating %s: %w", flagProjectionOut, err)
		}
		defer f.Close()
		if err := reporting.WriteProjectionCSV(f, pipeline.Counters().Projections()); err != nil {
			return err
		}
	}
	if flagLatencyOut != "" {
		f, err := os.Create(flagLatencyOut)
		if err != nil {
			return fmt.Errorf("bikecep: creating %s: %w", flagLatencyOut, err)
		}
		defer f.Close()
		if err := reporting.WriteLatencyCSV(f, pipeline.Counters().DetectionLatenciesMS()); err != nil {
			return err
		}
	}
	if flagCounterOut != "" {
		f, err := os.Create(flagCounterOut)
		if err != nil {
			return fmt.Errorf("bikecep: creating %s: %w", flagCounterOut, err)
		}
		defer f.Close()
		if err := reporting.WriteCounterCSV(f, pipeline.Counters().CounterSnapshot()); err != nil {
			return err
		}
	}
	return nil
}
