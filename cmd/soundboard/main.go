// Command soundboard runs the shared soundboard backend.
//
//	soundboard serve --config soundboard.yaml
//	soundboard user promote alice --tier 2
//	soundboard audit cleanup --days 30
//	soundboard categories seed categories.yaml
//
// Every setting can also come from SOUNDBOARD_* environment variables.
package main

import "github.com/sakif/soundboard/internal/cli"

func main() {
	cli.Execute()
}
