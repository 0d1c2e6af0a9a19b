package store

// DefaultMaxBatchSize is the DynamoDB TransactWriteItems limit the system is designed around.
const DefaultMaxBatchSize = 25

// Config holds configuration for a Store.
type Config struct {
	// TableName is the single table holding every entity.
	// Default: "flock"
	TableName string

	// MaxBatchSize is the maximum number of ops per Transact call.
	// Default: 25
	// Max: 100 (DynamoDB hard limit)
	MaxBatchSize int
}

// DefaultConfig returns the configuration used in production.
func DefaultConfig() Config {
	return Config{
		TableName:    "flock",
		MaxBatchSize: DefaultMaxBatchSize,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TableName == "" {
		c.TableName = "flock"
	}
	if c.MaxBatchSize < 1 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxBatchSize > 100 {
		c.MaxBatchSize = 100
	}
}
