package ingest

import (
	"context"
	"log/slog"

	apperrors "github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-relatedness-engine/pkg/kafka"
)

// HandleMessage adapts ing to the post-ingest topic. Undecodable and invalid
// events are logged and committed so they cannot stall the partition.
// Persistence failures are returned, and the consumer retries the same
// message until it applies.
func HandleMessage(ing *Ingestor) kafka.MessageHandler {
	logger := slog.Default().With("component", "ingest-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[PostEvent](value)
		if err != nil {
			logger.Error("failed to decode post event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if err := ing.Apply(ctx, event); err != nil {
			if apperrors.IsValidation(err) {
				logger.Warn("skipping invalid post event",
					"key", string(key),
					"op", event.Op,
					"error", err,
				)
				return nil
			}
			return err
		}
		logger.Debug("post event applied",
			"key", string(key),
			"op", event.Op,
		)
		return nil
	}
}
