package cpauportal

import (
	"cpau-backend/lib/restyutil"
	"cpau-backend/lib/telemetry"
)

var tracer = telemetry.Tracer("cpau.lib.scrapers.cpauportal")
var restyInstrumentOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}
