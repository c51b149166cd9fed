package main

import (
	"flag"

	"ripple/ripple"
	"ripple/util"
)

func main() {
	configPath := flag.String("config", "config/worker1_config.json", "worker config file")
	flag.Parse()

	var config ripple.WorkerConfig
	err := util.ReadJSONConfig(*configPath, &config)
	util.CheckErr(err, "worker: reading config %v", *configPath)

	worker := ripple.NewWorker(config)
	err = worker.Start()
	util.CheckErr(err, "worker %v", config.WorkerId)
}
