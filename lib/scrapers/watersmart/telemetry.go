package watersmart

import (
	"cpau-backend/lib/restyutil"
	"cpau-backend/lib/telemetry"
)

var tracer = telemetry.Tracer("cpau.lib.scrapers.watersmart")
var restyInstrumentOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}
