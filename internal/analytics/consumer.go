// Package analytics ingests collection-update events into BigQuery for
// offline analysis of cart and wishlist activity.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/joaquinreyes/atelier-backend/internal/events"
	"github.com/joaquinreyes/atelier-backend/pkg/logger"
)

// ErrBadMessage marks messages that can never succeed; the worker acks them
// instead of redelivering.
var ErrBadMessage = fmt.Errorf("malformed sync event message")

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// Consumer writes sync events to BigQuery.
type Consumer struct {
	client tableInserter
	table  string
	logg   *logger.Logger
}

// NewConsumer builds a new analytics consumer.
func NewConsumer(client tableInserter, table string, logg *logger.Logger) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("bigquery table name required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		client: client,
		table:  strings.TrimSpace(table),
		logg:   logg,
	}, nil
}

// Process ingests one published collection update. The message ID comes from
// Pub/Sub and dedupes replays downstream, since BigQuery ingestion is
// at-least-once.
func (c *Consumer) Process(ctx context.Context, messageID string, data []byte) error {
	logCtx := c.logg.WithField(ctx, "message_id", messageID)

	var update events.Update
	if err := json.Unmarshal(data, &update); err != nil {
		c.logg.Error(logCtx, "failed to decode collection update", err)
		return fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if update.Collection != events.CollectionCart && update.Collection != events.CollectionWishlist {
		c.logg.Info(logCtx, "event not handled by analytics consumer")
		return nil
	}
	if update.UserID == "" {
		return fmt.Errorf("%w: user id missing", ErrBadMessage)
	}

	row := buildRow(messageID, update, data)
	if err := c.client.InsertRows(ctx, c.table, []any{row}); err != nil {
		c.logg.Error(logCtx, "failed to insert sync event row", err)
		return err
	}

	c.logg.Info(c.logg.WithCollection(logCtx, update.Collection), "sync event ingested")
	return nil
}

type syncEventRow struct {
	MessageID     string             `bigquery:"message_id"`
	Collection    string             `bigquery:"collection"`
	UserID        string             `bigquery:"user_id"`
	ItemCount     int                `bigquery:"item_count"`
	TotalQuantity int                `bigquery:"total_quantity"`
	Subtotal      string             `bigquery:"subtotal"`
	UpdatedAt     time.Time          `bigquery:"updated_at"`
	Payload       cbigquery.NullJSON `bigquery:"payload"`
}

func buildRow(messageID string, update events.Update, raw []byte) *syncEventRow {
	payloadJSON := cbigquery.NullJSON{}
	if len(raw) > 0 {
		payloadJSON.Valid = true
		payloadJSON.JSONVal = string(raw)
	}
	return &syncEventRow{
		MessageID:     messageID,
		Collection:    update.Collection,
		UserID:        update.UserID,
		ItemCount:     update.ItemCount,
		TotalQuantity: update.TotalQuantity,
		Subtotal:      update.Subtotal,
		UpdatedAt:     update.UpdatedAt,
		Payload:       payloadJSON,
	}
}
