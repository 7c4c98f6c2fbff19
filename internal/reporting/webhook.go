package reporting

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mjolnir42/delay"
	"github.com/sirupsen/logrus"

	"github.com/striiike/Efficient-Pattern-Detection/internal/bikecep"
)

// WebhookConfig configures the HTTP forwarder the same four retry/redirect
// knobs the teacher's handler.go sets on its resty client.
type WebhookConfig struct {
	DestinationURI string
	RetryCount     int
	RetryMinWaitMS int
	RetryMaxWaitMS int
}

// matchPayload is the JSON body POSTed per completed match.
type matchPayload struct {
	A1Start            int     `json:"a1_start"`
	LastAEnd           int     `json:"last_a_end"`
	TerminalEnd        int     `json:"b_end"`
	DetectionLatencyMS float64 `json:"detection_latency_ms"`
}

// WebhookSink forwards completed matches to an HTTP endpoint, built on the
// same resty client configuration and delay.Use()/Done() in-flight bound the
// teacher's Cyclone.Start/process use around outbound alarm POSTs.
type WebhookSink struct {
	client *resty.Client
	uri    string
	delay  *delay.Delay
	wg     sync.WaitGroup
	log    *logrus.Entry
}

// NewWebhookSink builds a sink with the teacher's flexible-redirect,
// bounded-retry client configuration.
func NewWebhookSink(cfg WebhookConfig, log *logrus.Entry) *WebhookSink {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	client := resty.New().
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(15)).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(time.Duration(cfg.RetryMinWaitMS) * time.Millisecond).
		SetRetryMaxWaitTime(time.Duration(cfg.RetryMaxWaitMS) * time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &WebhookSink{
		client: client,
		uri:    cfg.DestinationURI,
		delay:  delay.New(),
		log:    log,
	}
}

// Emit implements bikecep.MatchSink. It dispatches the POST asynchronously,
// bounded by delay.Use()/Done(), exactly as the teacher bounds concurrent
// alarm dispatch; the call itself never blocks on the HTTP round trip.
func (s *WebhookSink) Emit(m bikecep.CompletedMatch) error {
	payload := matchPayload{
		A1Start:            m.Projection.A1Start,
		LastAEnd:           m.Projection.LastAEnd,
		TerminalEnd:        m.Projection.TerminalEnd,
		DetectionLatencyMS: m.DetectionLatencyMS,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("reporting: encoding match payload: %w", err)
	}

	s.delay.Use()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.delay.Done()
		resp, err := s.client.R().
			SetBody(body).
			Post(s.uri)
		if err != nil {
			s.log.Errorf("reporting, webhook dispatch failed: %s", err)
			return
		}
		if resp.StatusCode() >= 300 {
			s.log.Errorf("reporting, webhook returned %d: %s", resp.StatusCode(), resp.String())
			return
		}
		s.log.Debugf("reporting, webhook dispatched match %+v", m.Projection)
	}()
	return nil
}

// Drain blocks until every in-flight dispatch has completed, for use at
// shutdown. delay.Delay only bounds concurrency, it has no wait primitive
// of its own, so the actual drain is a WaitGroup kept alongside it.
func (s *WebhookSink) Drain() {
	s.wg.Wait()
}
