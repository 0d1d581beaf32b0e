package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ekrata/echomimic-v2/internal/models"
	"github.com/ekrata/echomimic-v2/internal/pkg/logger"
	"github.com/ekrata/echomimic-v2/internal/ports"
)

// pushBounded pushes ARGV[2] onto KEYS[1] unless the list already holds
// ARGV[1] entries. Returns 1 when pushed.
var pushBounded = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('LPUSH', KEYS[1], ARGV[2])
return 1
`)

// Redis enqueues job descriptors on a Redis list consumed by cmd/worker.
type Redis struct {
	rdb   *redis.Client
	key   string
	depth int
	log   *logger.Logger
}

func NewRedis(rdb *redis.Client, key string, depth int, log *logger.Logger) *Redis {
	if log == nil {
		log = logger.Discard()
	}
	return &Redis{rdb: rdb, key: key, depth: depth, log: log.WithComponent("dispatcher")}
}

func (d *Redis) Submit(ctx context.Context, desc models.JobDescriptor) (ports.Handle, error) {
	payload, err := json.Marshal(desc)
	if err != nil {
		return ports.Handle{}, fmt.Errorf("encode job %s: %w", desc.JobID, err)
	}

	pushed, err := pushBounded.Run(ctx, d.rdb, []string{d.key}, d.depth, payload).Int()
	if err != nil {
		return ports.Handle{}, fmt.Errorf("enqueue job %s: %w", desc.JobID, err)
	}
	if pushed == 0 {
		return ports.Handle{}, fmt.Errorf("job %s: %w", desc.JobID, ports.ErrQueueFull)
	}

	d.log.FromContext(ctx).Debug("job enqueued", "job_id", desc.JobID, "queue", d.key)
	return ports.Handle{JobID: desc.JobID}, nil
}

func (d *Redis) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}

// DecodeDescriptor parses a queued payload.
func DecodeDescriptor(payload string) (models.JobDescriptor, error) {
	var desc models.JobDescriptor
	if err := json.Unmarshal([]byte(payload), &desc); err != nil {
		return models.JobDescriptor{}, fmt.Errorf("decode job payload: %w", err)
	}
	if desc.JobID == "" {
		return models.JobDescriptor{}, fmt.Errorf("decode job payload: missing job_id")
	}
	return desc, nil
}
