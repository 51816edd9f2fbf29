//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/namtroi/ragbase/internal/bootstrap"
	"github.com/namtroi/ragbase/internal/infra/config"
	httpiface "github.com/namtroi/ragbase/internal/interface/http"
	"github.com/namtroi/ragbase/pkg/logger"
)

func initializeApp() (*bootstrap.App, error) {
	wire.Build(
		config.Load,
		logger.New,
		provideChatGPTClient,
		provideIngestPostgresPool,
		provideIngestStore,
		provideEventBus,
		provideBlobStore,
		provideJobQueue,
		provideChunker,
		provideEmbedder,
		provideConverter,
		provideCoordinatorConfig,
		provideSearchConfig,
		provideProfileRegistry,
		provideCoordinator,
		provideSearchGateway,
		provideWorkerDispatcher,
		provideIngestHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil
}
