package lock

import (
	"fmt"
	"log/slog"

	"docflow/internal/config"
	"docflow/internal/storage"

	"github.com/redis/go-redis/v9"
)

// New builds the manager selected by cfg.LockBackend. store backs the
// database backend and may be nil otherwise.
func New(cfg config.Config, store storage.LockStore, logger *slog.Logger) (Manager, error) {
	switch cfg.LockBackend {
	case "file":
		return NewFileManager(cfg.LockFilePath, logger), nil
	case "database":
		if store == nil {
			return nil, fmt.Errorf("lock backend database: no store configured")
		}
		return NewDatabaseManager(store), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.LockRedisAddr})
		return NewRedisManager(rdb), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}
