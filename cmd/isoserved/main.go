package main

import (
	"context"

	"github.com/isoserve/isoserve/api/server"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, halt := context.WithCancel(context.Background())
	defer halt()

	srv, err := server.NewFromEnv(ctx, server.EnableShutdownEndpoint(ctx, halt))
	if err != nil {
		logrus.WithError(err).Fatal("cannot start server")
	}
	srv.Start(ctx)
}
