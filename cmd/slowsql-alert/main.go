package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/ccfos/rds-slowsql-alert/center/cloudmgmt"
	"github.com/ccfos/rds-slowsql-alert/center/cron"
	"github.com/ccfos/rds-slowsql-alert/center/history"
	"github.com/ccfos/rds-slowsql-alert/center/notify"
	"github.com/ccfos/rds-slowsql-alert/center/router"
	"github.com/ccfos/rds-slowsql-alert/center/slowlog"
	"github.com/ccfos/rds-slowsql-alert/conf"
	"github.com/ccfos/rds-slowsql-alert/models"

	"github.com/toolkits/pkg/logger"
)

var (
	configFile  = flag.String("config", "etc/config.toml", "path of config file")
	showVersion = flag.Bool("version", false, "show version")
)

var Version = "unknown"

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "slowsql-alert:", err)
		os.Exit(1)
	}
}

func run() error {
	c, err := conf.InitConfig(*configFile)
	if err != nil {
		return err
	}
	logger.SetSeverity(c.Log.Level)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	provider, err := cloudmgmt.Init().GetProvider(c)
	if err != nil {
		return err
	}
	_ = cloudmgmt.GetManager().TestConnection(ctx, provider)

	if c.Interval() != slowlog.DefaultWindowLength && c.Monitor.Strategy == conf.StrategyQuery {
		logger.Warningf("query interval %s differs from the %s query window, slow queries may be missed or reported twice",
			c.Interval(), slowlog.DefaultWindowLength)
	}

	notifier, err := notify.NewWeComNotifier(c.WeChat.WebhookURL, c.WeChat.RateLimitPerMinute,
		time.Duration(c.WeChat.Timeout)*time.Second)
	if err != nil {
		return err
	}

	var recorder *history.Recorder
	if c.History.Enable {
		db, err := models.OpenDB(c.History.DBType, c.History.DSN)
		if err != nil {
			return err
		}
		recorder = history.NewRecorder(db)

		cleaner := cron.NewHistoryCleaner(db, c.History.RetentionDays, c.History.CleanupCron, c.Location())
		if err := cleaner.Start(); err != nil {
			return fmt.Errorf("invalid history cleanup cron %q: %w", c.History.CleanupCron, err)
		}
		defer cleaner.Stop()
	}

	loc := c.Location()
	instances := c.MonitoredInstances()
	builder := slowlog.NewReportBuilder(loc)

	var (
		processor slowlog.Processor
		cursors   *slowlog.CursorStore
	)
	switch c.Monitor.Strategy {
	case conf.StrategyQuery:
		api, err := cloudmgmt.Querier(provider)
		if err != nil {
			return err
		}
		p := slowlog.NewQueryProcessor(provider.GetName(), slowlog.NewWindowCursor(loc, slowlog.DefaultWindowLength),
			slowlog.NewQueryFetcher(api, 0), builder, notifier)
		if recorder != nil {
			p.WithHistory(recorder)
		}
		processor = p
	default:
		api, err := cloudmgmt.Exporter(provider)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(c.Monitor.DownloadDir, 0o755); err != nil {
			return fmt.Errorf("create download dir %s: %w", c.Monitor.DownloadDir, err)
		}
		cursors = slowlog.NewCursorStore(time.Now())
		poller := slowlog.NewExportPoller(api, c.Monitor.Export.MaxRetries,
			time.Duration(c.Monitor.Export.RetryInterval)*time.Second)
		fetcher := slowlog.NewFileFetcher(c.Monitor.DownloadDir, time.Duration(c.Monitor.Export.DownloadTimeout)*time.Second)
		p := slowlog.NewExportProcessor(provider.GetName(), poller, fetcher, slowlog.NewParser(loc), cursors, builder, notifier)
		if recorder != nil {
			p.WithHistory(recorder)
		}
		processor = p
	}

	board := slowlog.NewStatusBoard(provider.GetName(), c.Monitor.Strategy, cursors)
	driver := slowlog.NewDriver(processor, instances, c.Interval(), c.Monitor.Concurrency).WithStatusBoard(board)

	for _, inst := range instances {
		if len(inst.Databases) == 0 {
			logger.Infof("instance %s: monitoring all databases", inst.DisplayName())
		} else {
			logger.Infof("instance %s: monitoring databases %v", inst.DisplayName(), inst.Databases)
		}
	}

	httpDone := make(chan struct{})
	if c.HTTP.Enable {
		rt := router.New(board, 3*c.Interval()+10*time.Minute)
		go func() {
			defer close(httpDone)
			if err := rt.Serve(ctx, c.HTTP.Listen); err != nil {
				logger.Errorf("%v", err)
			}
		}()
	} else {
		close(httpDone)
	}

	err = driver.Run(ctx)
	stop()
	<-httpDone
	return err
}
