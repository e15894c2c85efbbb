package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/wessley-mvp/internal/pipeline"
)

// IngestSubject and DLQSubject are the NATS subjects used by the optional
// message-triggered mode: a scraper that prefers publishing items instead
// of piping newline-delimited JSON can publish one Item per message here
// instead of invoking the CLI directly.
const (
	IngestSubject = "wessley.ingest.items"
	DLQSubject    = "wessley.ingest.dlq"
	MaxRetries    = 3
)

// dlqMessage is published to DLQSubject once an item has failed MaxRetries
// times in a row.
type dlqMessage struct {
	Item    Item   `json:"item"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// StartNATSConsumer subscribes to IngestSubject and runs each received item
// through driver's orchestrator directly (bypassing the channel-based Run
// loop, since NATS delivery is already async and per-message). A failed
// document is republished with an incremented X-Retry-Count header up to
// MaxRetries, then sent to DLQSubject.
//
// This is an alternative to Driver.Run's channel-based dispatch for
// deployments that trigger ingestion from a message bus rather than a
// per-invocation scraper process.
func StartNATSConsumer(nc *nats.Conn, d *Driver, opts pipeline.RunOptions) (*nats.Subscription, error) {
	log := d.logger
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(IngestSubject, func(msg *nats.Msg) {
		var item Item
		if err := json.Unmarshal(msg.Data, &item); err != nil {
			log.Error("nats ingest: unmarshal failed", "error", err)
			return
		}

		ctx := context.Background()

		meta, path, ok := reconstruct(item, log)
		if !ok {
			log.Error("nats ingest: item missing or non-existent path", "title", titleOf(item))
			return
		}

		retries := retryCount(msg)

		outcome := d.orchestrator.RunDocument(ctx, path, meta, opts)
		if !outcome.Failed {
			log.Info("nats ingest: document processed", "title", outcome.Title)
			ackMsg(msg)
			return
		}

		retries++
		log.Error("nats ingest: document failed", "title", outcome.Title, "error", outcome.ErrorMessage, "retry", retries)

		if retries >= MaxRetries {
			dlq := dlqMessage{Item: item, Error: outcome.ErrorMessage, Retries: retries}
			data, _ := json.Marshal(dlq)
			if err := nc.Publish(DLQSubject, data); err != nil {
				log.Error("nats ingest: DLQ publish failed", "error", err)
			}
		} else {
			retryMsg := nats.NewMsg(IngestSubject)
			retryMsg.Data = msg.Data
			retryMsg.Header = nats.Header{}
			retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
			if err := nc.PublishMsg(retryMsg); err != nil {
				log.Error("nats ingest: retry publish failed", "error", err)
			}
		}

		ackMsg(msg)
	})
}

func retryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	var n int
	if v := msg.Header.Get("X-Retry-Count"); v != "" {
		fmt.Sscanf(v, "%d", &n)
	}
	return n
}

func ackMsg(msg *nats.Msg) {
	if msg.Reply != "" {
		_ = msg.Ack()
	}
}
