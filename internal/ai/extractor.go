package ai

import (
	"context"

	"github.com/quantumlayerhq/aetim/internal/extract"
	"github.com/quantumlayerhq/aetim/pkg/logger"
)

// Extractor prefers the external service and degrades to the rule engine.
// The rule path is always available; extraction never fails.
type Extractor struct {
	client *Client
	rules  *extract.Engine
	log    *logger.Logger
}

// NewExtractor wires the optional service client in front of the rule
// engine. client may be nil.
func NewExtractor(client *Client, log *logger.Logger) *Extractor {
	return &Extractor{
		client: client,
		rules:  extract.NewEngine(),
		log:    log.WithComponent("extractor"),
	}
}

// Extract runs the service when it is healthy, otherwise the rule engine.
func (x *Extractor) Extract(ctx context.Context, text string) extract.Result {
	if x.client.Healthy(ctx) {
		result, err := x.client.Extract(ctx, text)
		if err == nil {
			return result
		}
		x.log.Warn("extraction service failed, using rule engine", "error", err)
	}
	return x.rules.Extract(text)
}
