// Package stream provides the Lambda handlers that feed delivered events
// into the fan-out engine.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	awsevents "github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/jacentio/flock/events"
	"github.com/jacentio/flock/feed"
	"github.com/jacentio/flock/internal/keys"
)

// Engine is the part of the fan-out engine the handlers drive.
type Engine interface {
	Distribute(ctx context.Context, ev events.PostCreated) (*feed.Job, error)
	Retract(ctx context.Context, followerID, authorID string, unfollowedAt time.Time) (*feed.Job, error)
}

// Handler routes domain events to the fan-out engine.
type Handler struct {
	engine Engine
	logger *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(engine Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

// HandleEvent processes one EventBridge event. Returning an error makes the
// platform redeliver the event, which is safe because fan-out is idempotent.
func (h *Handler) HandleEvent(ctx context.Context, event awsevents.EventBridgeEvent) error {
	ev, err := events.Decode(event.DetailType, event.Detail)
	if errors.Is(err, events.ErrUnknownType) {
		h.logger.Debug("ignoring event",
			zap.String("eventId", event.ID),
			zap.String("detailType", event.DetailType),
		)
		return nil
	}
	if err != nil {
		// A malformed detail will never decode; redelivery cannot help.
		h.logger.Error("dropping undecodable event",
			zap.String("eventId", event.ID),
			zap.String("detailType", event.DetailType),
			zap.Error(err),
		)
		return nil
	}

	if err := h.Dispatch(ctx, ev); err != nil {
		h.logger.Error("failed to process event",
			zap.String("eventId", event.ID),
			zap.String("detailType", event.DetailType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// HandleSQS processes EventBridge events delivered through an SQS queue and
// reports failed messages individually so only those are redelivered.
func (h *Handler) HandleSQS(ctx context.Context, event awsevents.SQSEvent) (awsevents.SQSEventResponse, error) {
	var resp awsevents.SQSEventResponse
	for _, msg := range event.Records {
		var envelope awsevents.EventBridgeEvent
		if err := json.Unmarshal([]byte(msg.Body), &envelope); err != nil {
			h.logger.Error("dropping malformed message",
				zap.String("messageId", msg.MessageId),
				zap.Error(err),
			)
			continue
		}
		if err := h.HandleEvent(ctx, envelope); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, awsevents.SQSBatchItemFailure{
				ItemIdentifier: msg.MessageId,
			})
		}
	}
	return resp, nil
}

// Dispatch routes a decoded event. Events without a feed effect are ignored.
func (h *Handler) Dispatch(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.PostCreated:
		job, err := h.engine.Distribute(ctx, e)
		if err != nil {
			return fmt.Errorf("distribute post %s: %w", e.PostID, err)
		}
		h.logger.Debug("fan-out job finished",
			zap.String("postId", e.PostID),
			zap.String("state", string(job.State)),
			zap.Int("entries", job.Entries),
		)
	case events.UserUnfollowed:
		if _, err := h.engine.Retract(ctx, e.FollowerID, e.FollowedUserID, e.Timestamp); err != nil {
			return fmt.Errorf("retract %s from feed of %s: %w", e.FollowedUserID, e.FollowerID, err)
		}
	}
	return nil
}

// HandleStream processes DynamoDB stream records of the table. A removed
// follow edge retracts the followed author's posts from the follower's
// feed, which covers unfollows whose UserUnfollowed event was never
// published.
func (h *Handler) HandleStream(ctx context.Context, event awsevents.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				zap.String("eventId", record.EventID),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record awsevents.DynamoDBEventRecord) error {
	if record.EventName != string(awsevents.DynamoDBOperationTypeRemove) {
		return nil
	}

	pk := getStringAttr(record.Change.Keys, "PK")
	sk := getStringAttr(record.Change.Keys, "SK")
	followerID := keys.Suffix(pk, keys.PrefixUser)
	authorID := keys.Suffix(sk, keys.PrefixFollows)
	if followerID == "" || authorID == "" {
		return nil
	}

	if _, err := h.engine.Retract(ctx, followerID, authorID, removedAt(record)); err != nil {
		return fmt.Errorf("retract %s from feed of %s: %w", authorID, followerID, err)
	}
	return nil
}

// removedAt bounds a stream retraction. The approximate creation time only
// has second precision, so the bound is the end of that second.
func removedAt(record awsevents.DynamoDBEventRecord) time.Time {
	at := record.Change.ApproximateCreationDateTime.Time
	if at.IsZero() {
		return at
	}
	return at.Truncate(time.Second).Add(time.Second - time.Millisecond)
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]awsevents.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == awsevents.DataTypeString {
		return v.String()
	}
	return ""
}
