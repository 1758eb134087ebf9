// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/elastic/elastic-agent-libs/logp"
)

// postJSON is the shared delivery step of OpsGenie and PagerDuty: both build
// a JSON payload from an Alert and POST it, warning (not failing) on any
// response status other than 202, matching the original's
// "resp.status != 202" warning.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any, log *logp.Logger) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alert: failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("alert: request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		log.Warnw("alert provider received a non-202 response", "url", url, "status", resp.StatusCode)
	}
	return nil
}

// OpsGenieConfig mirrors OpsGenieAlertProvider's ConfigDefaults.
type OpsGenieConfig struct {
	URL    string
	APIKey string
	Tags   string
}

// NewOpsGenieProvider builds an AsyncProvider that posts to the OpsGenie v2
// alerts API, ported from OpsGenieAlertProvider._main.
func NewOpsGenieProvider(cfg OpsGenieConfig, log *logp.Logger) *AsyncProvider {
	if cfg.URL == "" {
		cfg.URL = "https://api.eu.opsgenie.com"
	}
	hostname, _ := os.Hostname()
	client := &http.Client{Timeout: 10 * time.Second}
	var tags []string
	for _, t := range strings.FieldsFunc(cfg.Tags, func(r rune) bool { return r == ',' || r == ' ' }) {
		if t != "" {
			tags = append(tags, t)
		}
	}

	deliver := func(ctx context.Context, a Alert) error {
		details := map[string]any{
			"source": a.Source,
			"class":  a.Class,
			"id":     a.ID,
		}
		for k, v := range a.Data {
			details[k] = v
		}
		payload := map[string]any{
			"message": a.Title,
			"note":    a.Detail,
			"alias":   fmt.Sprintf("%s:%s:%s", a.Source, a.Class, a.ID),
			"tags":    tags,
			"details": details,
			"entity":  a.Source,
			"source":  hostname,
		}
		headers := map[string]string{"Authorization": "GenieKey " + cfg.APIKey}
		return postJSON(ctx, client, cfg.URL+"/v2/alerts", headers, payload, log)
	}
	return NewAsyncProvider("opsgenie", deliver, log)
}

// PagerDutyConfig mirrors PagerDutyAlertProvider's ConfigDefaults.
type PagerDutyConfig struct {
	URL             string
	APIKey          string
	IntegrationKey  string
}

// NewPagerDutyProvider builds an AsyncProvider that posts to the PagerDuty
// Events API v2, ported from PagerDutyAlertProvider._main.
func NewPagerDutyProvider(cfg PagerDutyConfig, log *logp.Logger) *AsyncProvider {
	if cfg.URL == "" {
		cfg.URL = "https://events.pagerduty.com"
	}
	client := &http.Client{Timeout: 10 * time.Second}

	deliver := func(ctx context.Context, a Alert) error {
		details := map[string]any{
			"source": a.Source,
			"class":  a.Class,
			"id":     a.ID,
		}
		for k, v := range a.Data {
			details[k] = v
		}
		payload := map[string]any{
			"event_action": "trigger",
			"routing_key":  cfg.IntegrationKey,
			"dedup_key":    fmt.Sprintf("%s:%s:%s", a.Source, a.Class, a.ID),
			"client":       "fluxpump alert service",
			"payload": map[string]any{
				"summary":         a.Title,
				"severity":        "warning",
				"source":          a.Source,
				"group":           a.Class,
				"custom_details":  details,
			},
		}
		headers := map[string]string{"Authorization": "Token token=" + cfg.APIKey}
		return postJSON(ctx, client, cfg.URL+"/v2/enqueue", headers, payload, log)
	}
	return NewAsyncProvider("pagerduty", deliver, log)
}
