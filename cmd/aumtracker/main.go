package main

import (
	"aumtracker/cmd/aumtracker/commands"
	"aumtracker/internal/components/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
