package storage

import "github.com/ekrata/echomimic-v2/internal/ports"

// Provider is the storage contract used by the publisher and health checks.
type Provider = ports.StorageProvider
