package kafkaconsumer

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// eventClaims feeds one partition of catalog events, in offset order, to
// apply. An event is marked once its catalog change and the purge of the
// resource's cached hierarchies both went through. The first event that
// fails ends the claim unmarked, so it and everything after it on the
// partition come back after the rebalance.
type eventClaims struct {
	apply func(context.Context, *sarama.ConsumerMessage) error
}

func (eventClaims) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (eventClaims) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h eventClaims) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	events := claim.Messages()
	for {
		var msg *sarama.ConsumerMessage
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, open := <-events:
			if !open {
				return nil
			}
			msg = m
		}
		if err := h.apply(ctx, msg); err != nil {
			return fmt.Errorf("catalog event %s[%d]@%d left unmarked: %w",
				claim.Topic(), claim.Partition(), msg.Offset, err)
		}
		sess.MarkMessage(msg, "")
	}
}
