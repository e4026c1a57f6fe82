package main

import (
	"strings"
	"sync"

	"gather/internal/config"
	"gather/internal/daemonctl"
)

type commandContext struct {
	configFlag  *string
	addressFlag *string
	tokenFlag   *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, addressFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		addressFlag: addressFlag,
		tokenFlag:   tokenFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// client builds a daemon API client from the address/token flags, falling
// back to the configured bind address and token.
func (c *commandContext) client() (*daemonctl.Client, error) {
	address := ""
	token := ""
	if c.addressFlag != nil {
		address = strings.TrimSpace(*c.addressFlag)
	}
	if c.tokenFlag != nil {
		token = strings.TrimSpace(*c.tokenFlag)
	}

	if address == "" || token == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		if address == "" {
			address = cfg.Paths.APIBind
		}
		if token == "" {
			token = cfg.Paths.APIToken
		}
	}
	return daemonctl.NewClient(address, token), nil
}

func (c *commandContext) withClient(fn func(*daemonctl.Client) error) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	return fn(client)
}
