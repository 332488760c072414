// Command vocalflow runs streaming signal classifiers over live or recorded
// audio and publishes their phases, pitch and regularity scores.
//
// Usage:
//
//	vocalflow serve    [--config file]   run detectors and the HTTP/websocket feed
//	vocalflow analyze  [--config file]   run detectors offline and print a report
//	vocalflow segments [flags] FILE      list the active spans of a PCM recording
//	vocalflow version
//
// Every command accepts --env-file to load a dotenv file first.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}
