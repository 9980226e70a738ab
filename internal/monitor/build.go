package monitor

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"invoiceMonitor/internal/broker"
	"invoiceMonitor/internal/chain"
	"invoiceMonitor/internal/config"
	"invoiceMonitor/internal/metrics"
	"invoiceMonitor/internal/model"
	"invoiceMonitor/internal/notify"
	"invoiceMonitor/internal/poller"
	"invoiceMonitor/internal/ratelimit"
	"invoiceMonitor/internal/storage"
	"invoiceMonitor/internal/storage/kafka"
	"invoiceMonitor/internal/storage/postgres"
	"invoiceMonitor/internal/storage/redis"
)

// Build connects every backend named in cfg and returns a ready App.
// Networks whose configuration or endpoint is unusable are skipped.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, m *metrics.Metrics) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	topic0, err := poller.ParseEventTopic(cfg.EventSignature)
	if err != nil {
		return nil, fmt.Errorf("parse event signature: %w", err)
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	closers = append(closers, store.Close)

	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			closeAll()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}

	checkpoints, closeCheckpoints, err := checkpointStore(ctx, cfg, store)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, closeCheckpoints)

	deadLetters, closeDeadLetters, err := deadLetterSink(cfg, store)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, closeDeadLetters)

	fanout, err := notify.NewFanout(notifyConfig(cfg, logger), store, logger.Named("notify"), m)
	if err != nil {
		closeAll()
		return nil, err
	}

	adapters := make(map[string]broker.Adapter, len(cfg.Networks))
	for _, network := range cfg.Networks {
		client, err := dialNetwork(ctx, network, topic0, cfg, logger)
		if err != nil {
			logger.Error("network disabled", zap.String("network", network.Name), zap.Error(err))
			continue
		}
		adapters[network.Name] = client
		closers = append(closers, client.Close)
	}

	app, err := New(Options{
		Networks: cfg.Networks,
		Topic0:   topic0,
		Limits: ratelimit.Config{
			RequestsPerMinute: cfg.RequestsPerMinute,
			CreditsPerSecond:  cfg.CreditsPerSecond,
			CreditsPerDay:     cfg.CreditsPerDay,
		},
		Costs:           broker.Costs{BlockNumber: cfg.CostBlockNumber, Logs: cfg.CostLogs},
		RPCTimeout:      cfg.RPCTimeout,
		ResponseTimeout: cfg.ResponseTimeout,
		RetryDelay:      cfg.RetryDelay,
		PollInterval:    cfg.PollInterval,
		BatchSize:       cfg.BatchSize,
		AmountDecimals:  cfg.AmountDecimals,
		MetricsAddr:     cfg.MetricsAddr,
	}, Dependencies{
		Adapters:    adapters,
		Checkpoints: checkpoints,
		Invoices:    store,
		DeadLetters: deadLetters,
		Fanout:      fanout,
	}, logger, m)
	if err != nil {
		closeAll()
		return nil, err
	}
	app.OnClose(closeAll)
	return app, nil
}

func dialNetwork(ctx context.Context, network model.Network, topic0 common.Hash, cfg config.Config, logger *zap.Logger) (*chain.Client, error) {
	contract, err := poller.ParseAddress(network.Contract)
	if err != nil {
		return nil, fmt.Errorf("parse contract: %w", err)
	}
	client, err := chain.NewClient(network.RPCURL, contract, topic0, cfg.RPCTimeout)
	if err != nil {
		return nil, err
	}
	if network.ChainID == 0 {
		return client, nil
	}

	// Endpoint outages are tolerated here; the poller retries them.
	chainID, err := client.GetChainID(ctx)
	if err != nil {
		logger.Warn("chain id check skipped", zap.String("network", network.Name), zap.Error(err))
		return client, nil
	}
	if chainID.Uint64() != network.ChainID {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: configured %d, endpoint reports %s", network.ChainID, chainID)
	}
	return client, nil
}

func checkpointStore(ctx context.Context, cfg config.Config, store *postgres.Store) (storage.CheckpointStore, func(), error) {
	switch cfg.CheckpointBackend {
	case config.CheckpointFile:
		return poller.NewFileCheckpointStore(cfg.Checkpoint), func() {}, nil
	case config.CheckpointRedis:
		rs := redis.NewCheckpointStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		return store, func() {}, nil
	}
}

func deadLetterSink(cfg config.Config, store *postgres.Store) (storage.DeadLetterSink, func(), error) {
	switch cfg.DeadLetter {
	case config.DeadLetterNone:
		return nil, func() {}, nil
	case config.DeadLetterJSONL:
		return storage.NewJsonlDeadLetters(cfg.DeadLetterPath), func() {}, nil
	case config.DeadLetterKafka:
		publisher, err := kafka.NewDeadLetterPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, fmt.Errorf("build kafka publisher: %w", err)
		}
		return publisher, func() { _ = publisher.Close() }, nil
	default:
		return store, func() {}, nil
	}
}

func notifyConfig(cfg config.Config, logger *zap.Logger) notify.Config {
	out := notify.Config{
		WebBaseURL:    cfg.WebBaseURL,
		WebhookClient: &http.Client{Timeout: cfg.WebhookTimeout},
	}
	if cfg.BrevoAPIKey != "" {
		mailer, err := notify.NewMailer(cfg.BrevoAPIKey, cfg.EmailSender, "", nil)
		if err != nil {
			logger.Warn("email notifications disabled", zap.Error(err))
		} else {
			out.Mailer = mailer
		}
	}
	if cfg.TelegramToken != "" {
		bot, err := notify.NewTelegramBot(cfg.TelegramToken, "", cfg.TelegramRPS, nil)
		if err != nil {
			logger.Warn("telegram notifications disabled", zap.Error(err))
		} else {
			out.Telegram = bot
		}
	}
	return out
}
