// Command automattermostatus keeps the Mattermost custom status in line with
// the visible wifi networks, the time of day and microphone use.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
