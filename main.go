package main

import (
	"log"

	"github.com/davidpt/incentive-matcher/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
