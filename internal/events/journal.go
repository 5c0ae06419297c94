package events

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/researcher/models"
	"github.com/redis/go-redis/v9"
)

// Journal appends every published event to a Redis stream so that progress
// can be inspected after the WebSocket subscribers are gone.
type Journal struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewJournal(client *redis.Client, stream string, maxLen int64) *Journal {
	return &Journal{client: client, stream: stream, maxLen: maxLen}
}

func (j *Journal) ID() string { return "journal:" + j.stream }

// Send implements Subscriber by XADDing the event envelope.
func (j *Journal) Send(ctx context.Context, ev models.Event) error {
	env, err := NewEnvelope(ev)
	if err != nil {
		return err
	}
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: j.stream,
		Values: map[string]interface{}{
			"research_id": env.ResearchID,
			"event_type":  env.EventType,
			"envelope":    raw,
		},
	}
	if j.maxLen > 0 {
		args.MaxLen = j.maxLen
		args.Approx = true
	}
	if err := j.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", j.stream, err)
	}
	return nil
}

// History returns the journaled events of researchID in publish order,
// scanning at most the last scan entries of the stream.
func (j *Journal) History(ctx context.Context, researchID string, scan int64) ([]models.Event, error) {
	if scan <= 0 {
		scan = 1000
	}
	msgs, err := j.client.XRevRangeN(ctx, j.stream, "+", "-", scan).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", j.stream, err)
	}
	var out []models.Event
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if rid, _ := msg.Values["research_id"].(string); rid != researchID {
			continue
		}
		raw, _ := msg.Values["envelope"].(string)
		env, err := UnmarshalEnvelope([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", msg.ID, err)
		}
		ev, err := env.Event()
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", msg.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}
