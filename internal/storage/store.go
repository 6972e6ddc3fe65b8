package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teemow/oxd/internal/config"
	"github.com/teemow/oxd/internal/rp"
)

var (
	// ErrNotFound is returned when no RP is stored under an oxd_id.
	ErrNotFound = errors.New("rp not found")

	// ErrAlreadyExists is returned by Create when the oxd_id is taken.
	ErrAlreadyExists = errors.New("rp already exists")

	// ErrInvalidRP is returned when an RP without oxd_id is written.
	ErrInvalidRP = errors.New("rp has no oxd_id")
)

// Store persists RP records. Implementations are safe for concurrent use;
// writers to the same oxd_id are serialized and readers never observe a
// partially written record.
type Store interface {
	// Create stores a new RP. It fails with ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, r rp.RP) error

	// Update replaces an existing RP. It fails with ErrNotFound if absent.
	Update(ctx context.Context, r rp.RP) error

	// Get returns the RP stored under oxdID or ErrNotFound.
	Get(ctx context.Context, oxdID string) (rp.RP, error)

	// RemoveAll deletes every RP.
	RemoveAll(ctx context.Context) error

	// Load rehydrates the store from its backing storage and returns the
	// number of RPs available.
	Load(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// Pinger is implemented by backends holding a database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check reports whether store can serve requests. Backends with a database
// connection are pinged, the others count their records.
func Check(ctx context.Context, store Store) error {
	if p, ok := store.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := store.Load(ctx)
	return err
}

// New creates the backend selected by the configuration.
func New(ctx context.Context, conf config.Configuration, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sc := conf.StorageConfiguration

	switch conf.Storage {
	case config.StorageMemory, "":
		return NewMemoryStore(), nil
	case config.StorageFile:
		return NewFileStore(sc.Directory, logger)
	case config.StorageSQLite:
		return NewSQLiteStore(ctx, sc.DSN, logger)
	case config.StorageRedis:
		return NewRedisStore(ctx, RedisConfig{
			Addr:      sc.RedisAddr,
			Password:  sc.RedisPassword,
			DB:        sc.RedisDB,
			KeyPrefix: sc.RedisKeyPrefix,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported storage %q", conf.Storage)
	}
}

func validate(r rp.RP) error {
	if r.OxdID == "" {
		return ErrInvalidRP
	}
	return nil
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
