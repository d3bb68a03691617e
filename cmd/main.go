package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"dcarunner/cmd/candles"
	"dcarunner/cmd/keys"
	"dcarunner/cmd/runner"
	"dcarunner/src/database"
	"dcarunner/src/repository"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "dcarunner CMD"
	app.Usage = "The dcarunner command line interface"

	app.Commands = []cli.Command{
		runnerCMD,
		candlesCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	runnerCMD = cli.Command{
		Name:        "runner",
		Usage:       "run the DCA bot runner",
		Action:      runnerAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the tick scheduler and operational HTTP endpoints`,
	}
	candlesCMD = cli.Command{
		Name:        "candles",
		Usage:       "import OHLCV candles",
		Action:      candlesAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Import 1m candles from Binance into the candle store`,
	}
	keysCMD = cli.Command{
		Name:        "keys",
		Usage:       "manage exchange API credentials",
		Action:      keysAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Interactive CLI for storing encrypted exchange credentials`,
	}
)

func runnerAction(_ *cli.Context) error {

	logrus.Info("Starting runner CMD")

	r := &runner.Runner{}
	err := r.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func candlesAction(_ *cli.Context) error {

	logrus.Info("Starting candles CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	importer := &candles.Importer{
		Log:  logrus.WithField("cmd", "candles"),
		Repo: repository.NewOHLCVRepository(),
	}

	err := importer.Start(context.Background())
	if err != nil {
		logrus.WithError(err).Error("Starting candles cmd")
		return err
	}

	return nil
}

func keysAction(_ *cli.Context) error {

	logrus.Info("Starting keys CMD")

	k := &keys.Keys{}
	err := k.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting keys cmd")
		return err
	}

	return nil
}
