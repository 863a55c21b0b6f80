package cache

import (
	"context"

	"git.ronaksoft.com/flexipush/core/pkg/log"
	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

/*
   Creation Time: 2021 - Aug - 04
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

type Manager struct {
	Pool *redis.Pool
}

func New(redisDSN string) (*Manager, error) {
	cm := new(Manager)
	if _, err := redis.Dial("tcp", redisDSN); err != nil {
		log.Warn("We got error on dialing Redis", zap.Error(err), zap.String("DSN", redisDSN))
		return nil, err
	} else {
		cm.Pool = &redis.Pool{
			MaxIdle:   10,
			MaxActive: 1000,
			Dial: func() (redis.Conn, error) {
				c, err := redis.Dial("tcp", redisDSN)
				if err != nil {
					log.Warn("We got error on dial redis pool conn", zap.Error(err))
				}
				return c, err
			},
		}
	}
	return cm, nil
}

func (cm *Manager) GetConn() redis.Conn {
	c := cm.Pool.Get()
	return c
}

// Ping verifies the pool can still reach Redis, used by the daemon's
// startup check before it subscribes to the control bus.
func (cm *Manager) Ping(ctx context.Context) error {
	c, err := cm.Pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	_, err = c.Do("PING")
	return err
}

// Close releases every idle connection in the pool. Called on daemon
// shutdown.
func (cm *Manager) Close() error {
	return cm.Pool.Close()
}
