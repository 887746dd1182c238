package main

import (
	"flag"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"dex-stream-sol/internal/config"
	"dex-stream-sol/internal/service"
	"dex-stream-sol/internal/svc"
	"dex-stream-sol/pkg/logger"

	"github.com/zeromicro/go-zero/core/conf"
	zerosvc "github.com/zeromicro/go-zero/core/service"
)

var configFile = flag.String("f", "etc/monitor.yaml", "the config file")

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
			logger.Sync()
			os.Exit(1)
		}
	}()

	flag.Parse()

	var c config.MonitorServiceConfig
	conf.MustLoad(*configFile, &c)
	if err := c.Validate(); err != nil {
		panic(err)
	}

	if err := logger.Init(c.LogConf.ToLogOption()); err != nil {
		panic(err)
	}
	defer logger.Sync()

	serviceContext, err := svc.NewServiceContext(c)
	if err != nil {
		panic(err)
	}
	defer serviceContext.Close()

	sg := zerosvc.NewServiceGroup()
	sg.Add(service.NewStreamService(serviceContext))

	logger.Infof("Starting dex stream monitor service")
	sg.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down services...")
	sg.Stop()
}
