// ./main.go
package main

import (
	"github.com/xkilldash9x/qaframe/cmd"
)

// main is the entry point for the qaframe CLI.
func main() {
	cmd.Execute()
}
