package main

import (
	"context"
	"log"
	"os"
)

func main() {
	cmd := newCommand(os.Stdout, openStorage)
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
