package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"streamsaver/internal/app"
	"streamsaver/internal/cli"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	open := func(ctx context.Context, s cli.Settings) (cli.Runtime, error) {
		return app.Open(ctx, app.Options{
			ConfigPath:    s.ConfigPath,
			Version:       version,
			LogLevel:      s.LogLevel,
			Host:          s.Host,
			Port:          s.Port,
			SaveOverrides: s.SaveOverrides,
		})
	}

	err := cli.NewCLI(version, open).Command().ExecuteContext(ctx)
	stop()
	os.Exit(cli.ExitCode(err))
}
