package main

import (
	"context"
	"flag"
	"os"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/studyloop/feedengine/cache"
	"github.com/studyloop/feedengine/gateway"
	"github.com/studyloop/feedengine/server"
	"github.com/studyloop/feedengine/server/middlewares"
	. "github.com/studyloop/feedengine/utils"
	"github.com/studyloop/feedengine/utils/dotenv"
	. "github.com/studyloop/feedengine/utils/flag"
	. "github.com/studyloop/feedengine/utils/log"
)

func main() {
	flag.Parse()
	InitLogger()

	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}

	if !ByPassAuth {
		middlewares.Setup()
	}

	db, err := GetDBConnection()
	if err != nil {
		Log.Fatal("fail to connect to database: ", err)
	}
	gw := gateway.NewPostgresGateway(db)

	deps := server.Deps{
		Gateway:       gw,
		Suggestions:   gw,
		ChangeFeedURL: os.Getenv("CHANGE_FEED_URL"),
		PageSize:      pageSizeFromEnv(),
		Signals:       server.NewSignalChannels(),
	}

	// Caches are optional: without Redis the engine loses snapshot fallback
	// and persisted viewed statuses, without a data dir it loses the offline
	// mirror, and everything else still works.
	if os.Getenv("REDIS_HOST") != "" {
		snapshots, err := cache.GetSnapshotStore(context.Background())
		if err != nil {
			Log.Warn("snapshot cache disabled: ", err)
		} else {
			deps.Snapshots = snapshots
		}
		viewedStore, err := GetRedisViewedStore()
		if err != nil {
			Log.Warn("persisted viewed statuses disabled: ", err)
		} else {
			deps.ViewedStore = viewedStore
		}
	}
	if dir := os.Getenv("OFFLINE_STORE_DIR"); dir != "" {
		offline, err := cache.NewOfflineStore(dir + "/feedengine.db")
		if err != nil {
			Log.Warn("offline mirror disabled: ", err)
		} else {
			deps.Offline = offline
			defer offline.Close()
		}
	}

	registry := server.NewRegistry(deps)
	defer registry.DisposeAll()

	// Default with the Logger and Recovery middleware already attached.
	router := gin.Default()
	router.Use(cors.Default())
	if !ByPassAuth {
		router.Use(middlewares.JWT())
	}

	api := server.NewAPI(registry, deps.Signals)
	api.RegisterRoutes(router)

	Log.Info("feed engine server starts up")
	router.Run(":8080")
}

func pageSizeFromEnv() int {
	size, err := strconv.Atoi(os.Getenv("FEED_PAGE_SIZE"))
	if err != nil || size <= 0 {
		return 20
	}
	return size
}
