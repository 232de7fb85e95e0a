package main

import (
	"fmt"

	"github.com/hearsay-io/hearsay/cli"
)

func main() {
	if err := cli.Start(); err != nil {
		fmt.Println(err)
	}
}
