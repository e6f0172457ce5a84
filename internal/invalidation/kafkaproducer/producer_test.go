package kafkaproducer

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/mohammed-shakir/pcstream/internal/invalidation"
)

var fixed = time.Date(2025, 10, 26, 12, 0, 0, 0, time.UTC)

func TestInvalidate_SendsKeyedEvent(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	var got invalidation.Event
	mp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		k, _ := m.Key.Encode()
		if string(k) != "public.pa.points" {
			return errors.New("unexpected key " + string(k))
		}
		v, _ := m.Value.Encode()
		return json.Unmarshal(v, &got)
	})
	p := NewWithProducer(mp, "pointcloud-catalog", nil)
	p.now = func() time.Time { return fixed }

	if err := p.Invalidate("public.pa", "points"); err != nil {
		t.Fatal(err)
	}
	if got.Version != 1 || got.Op != invalidation.OpInvalidate || !got.TS.Equal(fixed) {
		t.Fatalf("event=%+v", got)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRefresh_HasNoKey(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Key != nil {
			return errors.New("refresh must not be keyed")
		}
		return nil
	})
	p := NewWithProducer(mp, "t", nil)
	if err := p.Refresh(); err != nil {
		t.Fatal(err)
	}
	_ = p.Close()
}

func TestPublish_InvalidEventNotSent(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	p := NewWithProducer(mp, "t", nil)
	if err := p.Invalidate("public.pa", ""); err == nil {
		t.Fatal("expected validation error")
	}
	_ = p.Close()
}

func TestPublish_SendFailure(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	p := NewWithProducer(mp, "t", nil)
	if err := p.Refresh(); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("err=%v", err)
	}
	_ = p.Close()
}

func TestNew_RequiresBrokersAndTopic(t *testing.T) {
	if _, err := New(nil, "t", nil); err == nil {
		t.Fatal("expected error")
	}
}
