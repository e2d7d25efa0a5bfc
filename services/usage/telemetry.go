package usage

import "cpau-backend/lib/telemetry"

var tracer = telemetry.Tracer("cpau.services.usage")
