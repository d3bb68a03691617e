package candles

import (
	"context"
	"net/http"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"dcarunner/src/model"
	"dcarunner/src/repository"
	"dcarunner/src/symbols"
)

// Importer pulls one-minute candles from Binance and upserts them into the
// candle store. Higher resolutions are aggregated on read, so only the 1m
// series is imported.
type Importer struct {
	Log      *logger.Entry
	Repo     *repository.OHLCVRepository
	Config   *Config
	exchange goex.API
}

func (o *Importer) Start(ctx context.Context) error {
	o.Config = GetConfig()
	o.exchange = o.newBinanceInstance()

	symbol := symbols.ToExchangeSymbol(o.Config.Symbol + o.Config.Quote)

	if o.Config.AutoMode {
		if err := o.determineStartPoint(ctx, symbol); err != nil {
			return err
		}
	}

	klines, err := o.fetchKlines()
	if err != nil {
		return err
	}

	candles := make([]model.OHLCVCandle1m, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, model.OHLCVCandle1m{
			Symbol:   symbol,
			Datetime: time.Unix(k.Timestamp, 0).UTC(),
			Open:     decimal.NewFromFloat(k.Open),
			High:     decimal.NewFromFloat(k.High),
			Low:      decimal.NewFromFloat(k.Low),
			Close:    decimal.NewFromFloat(k.Close),
			Volume:   decimal.NewFromFloat(k.Vol),
		})
	}

	if err := o.Repo.UpsertBatch(ctx, candles); err != nil {
		o.Log.WithError(err).Error("Failed to upsert candle batch")
		return err
	}

	o.Log.WithFields(logger.Fields{
		"pair":    symbols.ToDisplaySymbol(symbol),
		"candles": len(candles),
		"from":    o.Config.StartDt.String(),
		"to":      o.Config.EndDt.String(),
	}).Info("Candle import finished")

	return nil
}

func (*Importer) newBinanceInstance() *binance.Binance {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return binance.NewWithConfig(apiConfig)
}

// determineStartPoint resumes the import one minute before the newest stored
// candle so the last (possibly partial) bar gets overwritten.
func (o *Importer) determineStartPoint(ctx context.Context, symbol string) error {
	o.Config.EndDt = time.Now()

	latest, err := o.Repo.LatestDatetime(ctx, symbol)
	if err != nil {
		o.Log.WithError(err).Error("Failed to query latest candle datetime")
		return err
	}

	if latest.IsZero() {
		o.Log.WithFields(logger.Fields{
			"StartDt": o.Config.StartDt.String(),
			"EndDt":   o.Config.EndDt.String(),
		}).Info("No candles stored yet, starting from the configured StartDt")
		return nil
	}

	o.Config.StartDt = latest.Add(-time.Minute)
	o.Log.WithFields(logger.Fields{
		"StartDt": o.Config.StartDt.String(),
		"EndDt":   o.Config.EndDt.String(),
	}).Info("Resuming candle import from the latest stored bar")

	return nil
}

func (o *Importer) fetchKlines() ([]goex.Kline, error) {
	targetSymbol := goex.NewCurrencyPair(
		goex.Currency{Symbol: o.Config.Symbol},
		goex.Currency{Symbol: o.Config.Quote},
	)

	const millis = 1000
	return o.exchange.GetKlineRecords(
		targetSymbol,
		goex.KLINE_PERIOD_1MIN,
		o.Config.Limit,
		goex.OptionalParameter{}.
			Optional("startTime", o.Config.StartDt.Unix()*millis).
			Optional("endTime", o.Config.EndDt.Unix()*millis),
	)
}
