package main

import (
	"samezu-bot/cmd/samezu/commands"
	"samezu-bot/lib/serviceutil"
)

func main() {
	ctx, cancel := serviceutil.SignalContext()
	defer cancel()
	commands.ExecuteContext(ctx)
}
