package main

import (
	"errors"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tetrixcorps/compliantivr/internal/app"
	"github.com/tetrixcorps/compliantivr/internal/config"
	"github.com/tetrixcorps/compliantivr/internal/logging"
)

type commandContext struct {
	configFlag *string
	dbFlag     *string
	jsonFlag   *bool

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag, dbFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		dbFlag:     dbFlag,
		jsonFlag:   jsonFlag,
	}
}

// ensureConfig loads the configuration once. --db forces the sqlite store.
func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if p := strings.TrimSpace(*c.dbFlag); p != "" {
			cfg.Store = config.StoreSQLite
			cfg.DBPath = p
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withApp wires the services over the configured store for the duration
// of fn. It does not take the data-dir lock, so it can run next to a live
// server.
func (c *commandContext) withApp(cmd *cobra.Command, fn func(*app.App) error) (err error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if cfg.Store != config.StoreSQLite {
		return errors.New("ivrctl needs the sqlite store; set db_path or pass --db")
	}
	logger, err := logging.New(logging.Options{Level: "error", Format: "console", Output: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	a, err := app.Open(cmd.Context(), cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()
	return fn(a)
}

func (c *commandContext) json() bool { return c.jsonFlag != nil && *c.jsonFlag }

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
