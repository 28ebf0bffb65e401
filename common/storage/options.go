package storage

import (
	"fmt"

	"github.com/scusemua/training-queue/common/utils"
)

// RedisPasswordEnv is read when no password is configured, which keeps the password off the command line.
const RedisPasswordEnv = "TRAINING_QUEUE_REDIS_PASSWORD"

// QueueOptions locate the four task queues: the Redis server that holds them and the prefix of their keys.
type QueueOptions struct {
	RedisOptions `yaml:",inline" json:"redis_options"`

	KeyPrefix string `name:"queue_key_prefix" description:"Optional prefix of the queue keys, for running several independent queues on one Redis server." yaml:"queue_key_prefix" json:"queue_key_prefix"`
}

// ValidateQueueOptions fills in defaults for unset connection parameters.
func (o *QueueOptions) ValidateQueueOptions() {
	if o.Password == "" {
		o.Password = utils.GetEnv(RedisPasswordEnv, "")
	}

	if o.Host == "" {
		fmt.Printf("[WARNING] \"redis_host\" configuration is not set. Using default value: \"%s\".\n", DefaultRedisHost)
		o.Host = DefaultRedisHost
	}

	if o.Port <= 0 {
		fmt.Printf("[WARNING] \"redis_port\" configuration is not set. Using default value: %d.\n", DefaultRedisPort)
		o.Port = DefaultRedisPort
	}

	if o.Database < 0 {
		fmt.Printf("[WARNING] Invalid \"redis_database\" configuration: %d. Using default value: %d.\n", o.Database, DefaultRedisDatabase)
		o.Database = DefaultRedisDatabase
	}
}
