package runevents

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestPublisher_SendsJSONKeyedByRun(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, NewConfig())
	var got Event
	mp.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		return json.Unmarshal(val, &got)
	})

	p := NewWithProducer(nil, mp, "route-runs", 4)
	p.Publish(Event{RunID: "run-1", Seq: 3, Segments: 5, Matched: 2, TS: time.Unix(0, 0).UTC()})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got.RunID != "run-1" || got.Seq != 3 || got.Segments != 5 || got.Matched != 2 {
		t.Fatalf("event=%+v", got)
	}
}

func TestPublisher_ProducerErrorsDoNotBlock(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, NewConfig())
	mp.ExpectInputAndFail(sarama.ErrOutOfBrokers)
	mp.ExpectInputAndSucceed()

	p := NewWithProducer(nil, mp, "route-runs", 4)
	p.Publish(Event{RunID: "a"})
	p.Publish(Event{RunID: "b"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNop(t *testing.T) {
	var s Sink = Nop{}
	s.Publish(Event{RunID: "x"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
