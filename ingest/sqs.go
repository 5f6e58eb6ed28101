// Package ingest pulls delivery envelopes off the notification queue
// and feeds them to the router. Message deletion is the completion
// handle: a routing failure leaves the message for the queue's own
// redelivery policy.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/stratumsec/warden/router"
	"github.com/stratumsec/warden/telemetry"
)

const (
	receiveBatchSize = 10
	receiveWaitTime  = 20 * time.Second
	receiveErrorWait = 5 * time.Second
)

// SQSAPI is the queue surface the poller uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Handler routes one classified envelope.
type Handler interface {
	Route(ctx context.Context, envelope router.Envelope) error
}

// Poller long-polls the notification queue.
type Poller struct {
	api      SQSAPI
	queueURL string
	handler  Handler
	logger   *telemetry.Logger
}

// NewPoller creates a Poller.
func NewPoller(api SQSAPI, queueURL string, handler Handler) *Poller {
	return &Poller{
		api:      api,
		queueURL: queueURL,
		handler:  handler,
		logger:   telemetry.NewLogger("ingest"),
	}
}

// Run polls until the context is canceled. Receive errors back off and
// continue; only cancellation stops the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info().Str("queue", p.queueURL).Msg("polling notification queue")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := p.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            awssdk.String(p.queueURL),
			MaxNumberOfMessages: receiveBatchSize,
			WaitTimeSeconds:     int32(receiveWaitTime / time.Second),
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.WithContext(ctx).Error().Err(err).Msg("receive failed")
			select {
			case <-time.After(receiveErrorWait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, msg := range out.Messages {
			p.handle(ctx, msg)
		}
	}
}

func (p *Poller) handle(ctx context.Context, msg sqstypes.Message) {
	envelope, err := decodeEnvelope(awssdk.ToString(msg.Body))
	if err != nil {
		// Malformed bodies would redeliver forever; drop them.
		p.logger.WithContext(ctx).Warn().Err(err).Msg("dropping undecodable message")
		p.delete(ctx, msg)
		return
	}

	if err := p.handler.Route(ctx, envelope); err != nil {
		p.logger.WithContext(ctx).Error().
			Err(err).
			Str("subject", envelope.Subject).
			Msg("routing failed, leaving message for redelivery")
		return
	}

	p.delete(ctx, msg)
}

func (p *Poller) delete(ctx context.Context, msg sqstypes.Message) {
	_, err := p.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      awssdk.String(p.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		p.logger.WithContext(ctx).Error().Err(err).Msg("failed to delete message")
	}
}

// decodeEnvelope accepts either a bare envelope or a raw notification
// body without the Subject/Message wrapper.
func decodeEnvelope(body string) (router.Envelope, error) {
	var envelope router.Envelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return router.Envelope{}, err
	}
	if envelope.Message == "" {
		envelope = router.Envelope{Message: body}
	}
	return envelope, nil
}
