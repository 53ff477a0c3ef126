// Package ledserver assembles the actuator controller: storage, GPIO lines,
// the connectivity supervisor and the servers it gates.
package ledserver

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/ledserver/internal/ledserver/actuator"
	"github.com/autopeer-io/ledserver/internal/ledserver/core"
	"github.com/autopeer-io/ledserver/internal/ledserver/diag"
	"github.com/autopeer-io/ledserver/internal/ledserver/presence"
	"github.com/autopeer-io/ledserver/internal/ledserver/server"
	"github.com/autopeer-io/ledserver/internal/ledserver/storage"
	"github.com/autopeer-io/ledserver/internal/ledserver/supervisor"
	"github.com/autopeer-io/ledserver/pkg/log"
)

// Controller is the running device.
type Controller struct {
	volume     *storage.Volume
	gpio       core.GPIO
	store      *actuator.Store
	server     *server.Server
	supervisor *supervisor.Supervisor
	announcer  *presence.Announcer
	diag       *diag.Server
	logger     log.Logger
}

// Run brings the device up and blocks until ctx is done. Only a storage or
// hardware initialization failure is returned as an error.
func (c *Controller) Run(ctx context.Context) error {
	defer func() {
		if err := c.gpio.Close(); err != nil {
			c.logger.Error(err, "Failed to release GPIO lines")
		}
	}()

	if err := initStorage(c.volume, c.logger); err != nil {
		return err
	}

	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("initialize actuators: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.supervisor.Run(ctx)
	})
	if c.diag != nil {
		g.Go(func() error {
			return c.diag.Start(ctx)
		})
	}
	if c.announcer != nil {
		g.Go(func() error {
			return c.announcer.Run(ctx)
		})
	}

	c.logger.Info("Controller started", "actuators", len(c.store.Specs()))
	if err := g.Wait(); err != nil {
		return err
	}
	c.logger.Info("Controller stopped")
	return nil
}

// Ready returns nil while the command endpoint is reachable.
func (c *Controller) Ready() error {
	return c.supervisor.Ready()
}

// Store exposes the actuator state.
func (c *Controller) Store() *actuator.Store {
	return c.store
}

// Server exposes the command server.
func (c *Controller) Server() *server.Server {
	return c.server
}

// initStorage initializes v, erasing it once if its format is incompatible.
func initStorage(v *storage.Volume, logger log.Logger) error {
	err := v.Init()
	if errors.Is(err, storage.ErrIncompatible) {
		logger.Warn("Storage volume incompatible, erasing", "dir", v.Dir(), "error", err.Error())
		if err := v.Erase(); err != nil {
			return fmt.Errorf("erase storage: %w", err)
		}
		err = v.Init()
	}
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	return nil
}
