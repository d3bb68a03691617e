package runner

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"dcarunner/src/connectors"
	"dcarunner/src/database"
	"dcarunner/src/engine"
	"dcarunner/src/repository"
	"dcarunner/src/scheduler"
	"dcarunner/src/server"
	"dcarunner/src/symbols"
)

// Runner is the long-lived trading process: the tick scheduler plus the
// operational HTTP endpoints, both shut down on SIGINT/SIGTERM.
type Runner struct{}

func (r *Runner) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.InitMainDB(); err != nil {
		return err
	}

	schedulerConfig := scheduler.GetConfig()
	eng := engine.NewEngine()
	bots := repository.NewBotRepository()

	if schedulerConfig.StreamPrices {
		pairs, err := bots.DistinctRunningPairs(ctx)
		if err != nil {
			logger.WithError(err).Warn("Could not list running pairs, price stream disabled")
		} else if len(pairs) > 0 {
			streamSymbols := make([]string, 0, len(pairs))
			for _, pair := range pairs {
				streamSymbols = append(streamSymbols, symbols.ToExchangeSymbol(pair))
			}
			stream := connectors.NewPriceStream(streamSymbols)
			go stream.Run(ctx)
			eng = eng.WithPriceSource(stream)
		}
	}

	go server.StartServer(ctx, server.GetConfig().Port, bots.CountByStatus)

	scheduler.NewScheduler(eng).Run(ctx)
	return nil
}
