package main

import (
	"github.com/BioHazard786/roomsync/cmd"
	"github.com/BioHazard786/roomsync/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init("")
	cmd.Execute()
}
