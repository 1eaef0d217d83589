package config

import (
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
)

func NewFiber(cfg *Config) *fiber.App {
	app := fiber.New(
		fiber.Config{
			AppName:          "Scrap Weight API",
			BodyLimit:        cfg.BodyLimitMB * 1024 * 1024,
			DisableKeepalive: false,
			StrictRouting:    true,
			CaseSensitive:    true,
			JSONEncoder:      jsoniter.Marshal,
			JSONDecoder:      jsoniter.Unmarshal,
		})

	return app
}
