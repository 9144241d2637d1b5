// The main file of the SecondInning notification client.
// A thin demo harness: the subsystem itself is a library embedded in a UI
// runtime, this binary just wires a session for one identity from env and
// logs what a UI surface would render.

package main

import (
	"SecondInning/internal/config"
	"SecondInning/internal/connection"
	"SecondInning/internal/entity"
	"SecondInning/internal/notification"
	"SecondInning/internal/rest"
	"SecondInning/internal/session"
	"SecondInning/pkg/cleanup"
	"SecondInning/pkg/db"
	"SecondInning/pkg/log"
	"context"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Indicates the current version of the SecondInning client.
var Version = "1.0.0"

func main() {
	// Fetching development env configs depending upon env flag.
	if os.Getenv("ENV") == "DEV" {
		config.LoadDevConfig()
	}

	logger := log.New(Version)
	logger.Info().Msg(fmt.Sprintf("Welcome to SecondInning client: v%s", Version))
	logger.Info().Msg(fmt.Sprintf("Client Environment: %s", os.Getenv("ENV")))

	ctx := context.Background()

	// Watermark store connection with a PING for connection status check.
	dbConn, dberr := db.NewDbConnection(ctx, logger)
	if dberr != nil {
		logger.Fatal().Err(dberr).Msg("Couldn't initialize the watermark store client.")
	}
	if pingerr := dbConn.CheckDbConnection(ctx, logger); pingerr != nil {
		logger.Fatal().Err(pingerr).Msg("Redis client couldn't PING the redis-server.")
	}

	// Identity arrives from the upstream auth layer, here from env.
	who := entity.Identity{
		ID:   os.Getenv("USER_ID"),
		Role: os.Getenv("USER_ROLE"),
	}

	wsURL, apiURL, token := os.Getenv("WS_URL"), os.Getenv("API_URL"), os.Getenv("AUTH_TOKEN")
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	manager := connection.NewManager(
		connection.Config{},
		connection.WebsocketFactory(wsURL, header, logger),
		logger,
	)

	sess, sesserr := session.New(who, session.Config{}, session.Deps{
		Manager: manager,
		Repo:    notification.NewRepository(dbConn),
		Fetcher: rest.NewClient(apiURL, token, logger),
		OnStatsRefresh: func() {
			logger.Info().Msg("Stats updated on the server, profile surfaces should refetch")
		},
	}, logger)
	if sesserr != nil {
		logger.Fatal().Err(sesserr).Msg("Couldn't start a session.")
	}

	// Stand-ins for the UI surfaces consuming the subsystem.
	unsubState := sess.Connection().OnStateChange(func(st entity.ConnectionState) {
		logger.Info().Msg(fmt.Sprintf("Connection: %s (attempt %d) %s", st.Status, st.Attempts, st.LastError))
	})
	unsubToast := sess.Notifications().OnToast(func(toast entity.Toast) {
		logger.Info().Msg(fmt.Sprintf("Toast [%s] %s: %s", toast.Category, toast.Title, toast.Message))
	})
	unsubChange := sess.Notifications().OnChange(func(counters entity.UnreadCounters) {
		logger.Info().Msg(fmt.Sprintf("Unread badge: %s", counters.DisplayTotal()))
	})

	// Graceful shutdown of the client triggered due to system interruptions.
	wait := cleanup.GracefulShutdown(ctx, logger, 5*time.Second, map[string]cleanup.Operation{
		"Session": func(ctx context.Context) error {
			unsubState()
			unsubToast()
			unsubChange()
			sess.Close()
			return nil
		},
		"Redis-server": func(ctx context.Context) error {
			return dbConn.CloseDbConnection(ctx)
		},
	})
	<-wait
}
