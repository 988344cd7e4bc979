package tax

import (
	"github.com/smallbiznis/taxline/internal/cache"
	"github.com/smallbiznis/taxline/internal/tax/repository"
	"github.com/smallbiznis/taxline/internal/tax/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tax",
	fx.Provide(cache.NewDefinitionResolverCache),
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
	fx.Provide(service.NewCalculator),
)
