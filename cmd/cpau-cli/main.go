package main

import (
	"cpau-backend/cmd/cpau-cli/commands"
	"cpau-backend/lib/serviceutil"
	"cpau-backend/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()
	_, err := telemetry.SetupFromEnv(ctx, "cpau-cli")
	if err != nil {
		serviceutil.Fatal("failed to set up telemetry", err)
	}
	telemetry.InstrumentPerfStats(ctx)
	commands.ExecuteContext(ctx)
}
