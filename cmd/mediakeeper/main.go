package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/mediakeeper/internal/app"
	"github.com/dmitrijs2005/mediakeeper/internal/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(ctx, cfg, os.Stdin, os.Stdout, os.Stderr)

	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
