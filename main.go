// The main package for the article-monitor executable.
package main

import (
	"github.com/JakeFAU/article-monitor/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
