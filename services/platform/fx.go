package platform

import (
	"promopay-engine/pkg/cache"
	"promopay-engine/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("platform",
	fx.Provide(provideGateway),
)

func provideGateway(c *cache.Cache, cfg *config.Config) *Gateway {
	return NewGateway(c, cfg,
		NewTikTokClient(cfg.TikTok.ClientKey, cfg.TikTok.ClientSecret),
		NewInstagramClient(),
	)
}
