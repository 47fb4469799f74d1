// internal/payments/anomalies.go
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gacp-engine/internal/common/database"
	"gacp-engine/internal/common/logger"
)

// Anomaly is one webhook event that could not be matched to a payable
// record. Anomalies are kept for operators, never surfaced to the provider.
type Anomaly struct {
	Reason        string    `json:"reason"`
	TransactionID string    `json:"transactionId"`
	Details       string    `json:"details,omitempty"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// AnomalyRecorder persists reconciliation anomalies for operator review.
type AnomalyRecorder interface {
	Record(ctx context.Context, anomaly Anomaly) error
}

// ESAnomalyRecorder indexes anomalies into Elasticsearch so operators can
// search and aggregate them.
type ESAnomalyRecorder struct {
	es    *database.ElasticsearchClient
	index string
	log   logger.Logger
}

func NewESAnomalyRecorder(es *database.ElasticsearchClient, index string, log logger.Logger) *ESAnomalyRecorder {
	return &ESAnomalyRecorder{es: es, index: index, log: log}
}

func (r *ESAnomalyRecorder) Record(ctx context.Context, anomaly Anomaly) error {
	payload, err := json.Marshal(anomaly)
	if err != nil {
		return err
	}

	res, err := r.es.Client.Index(
		r.index,
		bytes.NewReader(payload),
		r.es.Client.Index.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("indexing anomaly: %s", res.Status())
	}
	return nil
}

// LogAnomalyRecorder is the fallback recorder when no Elasticsearch cluster
// is configured.
type LogAnomalyRecorder struct {
	log logger.Logger
}

func NewLogAnomalyRecorder(log logger.Logger) *LogAnomalyRecorder {
	return &LogAnomalyRecorder{log: log}
}

func (r *LogAnomalyRecorder) Record(_ context.Context, anomaly Anomaly) error {
	r.log.Warn("payment reconciliation anomaly", map[string]interface{}{
		"reason":        anomaly.Reason,
		"transactionId": anomaly.TransactionID,
		"details":       anomaly.Details,
	})
	return nil
}
