package redis

import (
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// NewAsynqRedisOptions carries the connection settings of a go-redis client
// over to asynq so queue and locks talk to the same server
func NewAsynqRedisOptions(opt *redis.Options) *asynq.RedisClientOpt {
	asynqOpt := &asynq.RedisClientOpt{
		Network:   opt.Network,
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		PoolSize:  opt.PoolSize,
		TLSConfig: opt.TLSConfig,
	}

	asynqOpt.DialTimeout = opt.DialTimeout
	asynqOpt.ReadTimeout = opt.ReadTimeout
	asynqOpt.WriteTimeout = opt.WriteTimeout

	return asynqOpt
}

// AsynqOptions returns asynq connection options for the configured address
// together with the queue name under the configured prefix
func (c *Config) AsynqOptions(queue string) (*asynq.RedisClientOpt, string, error) {
	opt, err := c.Options()
	if err != nil {
		return nil, "", err
	}

	return NewAsynqRedisOptions(opt), c.PrefixQueue(queue), nil
}
