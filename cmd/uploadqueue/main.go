package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
