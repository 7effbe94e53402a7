// meetscribe sends notetaker bots into meetings and turns the resulting
// transcripts into structured outputs.
package main

import (
	"os"

	"github.com/meetscribe/meetscribe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
