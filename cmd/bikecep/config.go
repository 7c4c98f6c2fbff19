package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/striiike/Efficient-Pattern-Detection/internal/bikecep"
	"github.com/striiike/Efficient-Pattern-Detection/internal/targets"
)

// fileConfig is the YAML-on-disk shape of internal/bikecep.Config, with
// durations expressed in the friendlier units an operator edits by hand.
type fileConfig struct {
	Targets           []int   `yaml:"targets"`
	TimeWindowMinutes int     `yaml:"time_window_minutes"`
	MaxKleene         int     `yaml:"max_kleene"`
	ShedEnabled       bool    `yaml:"shed_enabled"`
	ShedMode          string  `yaml:"shed_mode"`
	BaseDropProb      float64 `yaml:"base_drop_prob"`
	TargetLatencyMS   float64 `yaml:"target_latency_ms"`
	EMAAlpha          float64 `yaml:"ema_alpha"`
	ExitHysteresis    float64 `yaml:"exit_hysteresis"`
	WindowEvents      int     `yaml:"window_events"`

	Kafka   kafkaFileConfig   `yaml:"kafka"`
	Webhook webhookFileConfig `yaml:"webhook"`
	Redis   redisFileConfig   `yaml:"redis"`
}

type kafkaFileConfig struct {
	Zookeeper     string `yaml:"zookeeper"`
	ConsumerGroup string `yaml:"consumer_group"`
	Topics        string `yaml:"topics"`
	ZkSyncMS      int    `yaml:"zk_sync_ms"`
	ResetOffsets  bool   `yaml:"reset_offsets"`
}

type webhookFileConfig struct {
	DestinationURI string `yaml:"destination_uri"`
	RetryCount     int    `yaml:"retry_count"`
	RetryMinWaitMS int    `yaml:"retry_min_wait_ms"`
	RetryMaxWaitMS int    `yaml:"retry_max_wait_ms"`
}

type redisFileConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// loadFileConfig reads and parses path. A missing file is not an error:
// callers fall back to bikecep.DefaultConfig().
func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &fc, nil
}

// toCoreConfig overlays fc onto bikecep.DefaultConfig(), leaving zero-valued
// fields at their default.
func (fc *fileConfig) toCoreConfig() bikecep.Config {
	cfg := bikecep.DefaultConfig()
	if fc == nil {
		return cfg
	}
	if len(fc.Targets) > 0 {
		targets := make(map[int]struct{}, len(fc.Targets))
		for _, t := range fc.Targets {
			targets[t] = struct{}{}
		}
		cfg.Targets = targets
	}
	if fc.TimeWindowMinutes > 0 {
		cfg.TimeWindow = time.Duration(fc.TimeWindowMinutes) * time.Minute
	}
	if fc.MaxKleene > 0 {
		cfg.MaxKleene = fc.MaxKleene
	}
	cfg.ShedEnabled = fc.ShedEnabled
	if fc.ShedMode != "" {
		cfg.ShedMode = bikecep.ShedMode(fc.ShedMode)
	}
	if fc.BaseDropProb > 0 {
		cfg.BaseDropProb = fc.BaseDropProb
	}
	if fc.TargetLatencyMS > 0 {
		cfg.TargetLatencyMS = fc.TargetLatencyMS
	}
	if fc.EMAAlpha > 0 {
		cfg.EMAAlpha = fc.EMAAlpha
	}
	if fc.ExitHysteresis > 0 {
		cfg.ExitHysteresis = fc.ExitHysteresis
	}
	if fc.WindowEvents > 0 {
		cfg.WindowEvents = fc.WindowEvents
	}
	return cfg
}

// watchConfig pushes an updated target-station set into the running
// pipeline whenever path changes on disk, matching spec.md §4.5's
// "mid-stream parameter changes ... take effect on the next event." Only
// targets hot-reload; everything else requires a restart. When cache is
// non-nil, the reloaded set is also written through to Redis so other
// pipelines sharing it pick up the change on their own next Load.
func watchConfig(path string, pipeline *bikecep.Pipeline, cache *targets.Cache, log *logrus.Entry) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: starting watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watching %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				fc, err := loadFileConfig(path)
				if err != nil {
					log.Errorf("config, reload failed, keeping previous config: %s", err)
					continue
				}
				cfg := fc.toCoreConfig()
				if err := cfg.Validate(); err != nil {
					log.Errorf("config, reloaded config is invalid, keeping previous config: %s", err)
					continue
				}
				pipeline.UpdateTargets(cfg.Targets)
				if cache != nil {
					if err := cache.Store(context.Background(), cfg.Targets); err != nil {
						log.Warnf("config, target cache write-through failed: %s", err)
					}
				}
				log.Infof("config, reloaded %s", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("config, watcher error: %s", err)
			}
		}
	}()
	return watcher, nil
}
