package main

import (
	"flag"

	"ripple/ripple"
	"ripple/util"
)

func main() {
	configPath := flag.String("config", "config/coord_config.json", "coord config file")
	source := flag.Uint64("source", 0, "global id of the source vertex")
	maxIterations := flag.Uint64("max-iterations", 10000, "hard cap on relaxation rounds")
	runs := flag.Int("runs", 1, "number of timed runs")
	verify := flag.Bool("verify", false, "print <globalId> <distance> lines after the last run")
	resume := flag.Bool("resume", false, "continue from the workers' latest checkpoint")
	flag.Parse()

	var config ripple.CoordConfig
	err := util.ReadJSONConfig(*configPath, &config)
	util.CheckErr(err, "coord: reading config %v", *configPath)

	coord := ripple.NewCoord(config)
	err = coord.Start()
	util.CheckErr(err, "coord: startup")

	err = coord.Run(ripple.RunParams{
		SourceVertex:  *source,
		MaxIterations: *maxIterations,
		Runs:          *runs,
		Verify:        *verify,
		Resume:        *resume,
	})
	util.CheckErr(err, "coord: run")
}
